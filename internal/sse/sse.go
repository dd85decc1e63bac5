// Package sse splits a server-sent-events byte stream into discrete
// frames. Frames carry the event name (when the server sends one) and
// the concatenated data payload; comment lines and unknown fields are
// skipped per the SSE wire format.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  string
}

// Scanner reads frames from an SSE response body.
type Scanner struct {
	sc *bufio.Scanner

	event string
	data  strings.Builder
}

const maxLineSize = 1024 * 1024

// NewScanner wraps r in a frame scanner. Lines up to 1MB are supported,
// matching the largest argument deltas seen in practice.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Scanner{sc: sc}
}

// Next returns the next complete frame. It returns io.EOF when the
// stream ends cleanly and the underlying read error otherwise.
func (s *Scanner) Next() (Frame, error) {
	for s.sc.Scan() {
		line := s.sc.Text()
		if line == "" {
			if s.data.Len() == 0 && s.event == "" {
				continue
			}
			f := Frame{Event: s.event, Data: s.data.String()}
			s.event = ""
			s.data.Reset()
			return f, nil
		}
		switch {
		case strings.HasPrefix(line, ":"):
			// comment, keep-alive
		case strings.HasPrefix(line, "event:"):
			s.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if s.data.Len() > 0 {
				s.data.WriteByte('\n')
			}
			s.data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := s.sc.Err(); err != nil {
		return Frame{}, err
	}
	if s.data.Len() > 0 || s.event != "" {
		f := Frame{Event: s.event, Data: s.data.String()}
		s.event = ""
		s.data.Reset()
		return f, nil
	}
	return Frame{}, io.EOF
}
