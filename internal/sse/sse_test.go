package sse

import (
	"io"
	"strings"
	"testing"
)

func TestScannerSplitsFrames(t *testing.T) {
	body := "event: response.output_text.delta\n" +
		"data: {\"delta\":\"Hi\"}\n" +
		"\n" +
		"data: {\"plain\":true}\n" +
		"\n"
	s := NewScanner(strings.NewReader(body))

	f, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Event != "response.output_text.delta" || f.Data != `{"delta":"Hi"}` {
		t.Errorf("unexpected frame: %+v", f)
	}

	f, err = s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Event != "" || f.Data != `{"plain":true}` {
		t.Errorf("unexpected frame: %+v", f)
	}

	if _, err := s.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestScannerMultiLineData(t *testing.T) {
	body := "data: line1\ndata: line2\n\n"
	s := NewScanner(strings.NewReader(body))
	f, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Data != "line1\nline2" {
		t.Errorf("data = %q", f.Data)
	}
}

func TestScannerSkipsComments(t *testing.T) {
	body := ": keep-alive\n\ndata: x\n\n"
	s := NewScanner(strings.NewReader(body))
	f, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Data != "x" {
		t.Errorf("data = %q", f.Data)
	}
}

func TestScannerFinalFrameWithoutTrailingBlank(t *testing.T) {
	body := "event: done\ndata: {}\n"
	s := NewScanner(strings.NewReader(body))
	f, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Event != "done" || f.Data != "{}" {
		t.Errorf("unexpected frame: %+v", f)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
