package llm

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// geminiAdapter turns GenerateContentStream chunks into canonical
// events. Gemini delivers function calls whole within a chunk rather
// than fragmenting arguments, so each call opens and closes on the same
// frame; ids are synthesized when the backend omits them so executors
// always have something to echo back.
type geminiAdapter struct {
	usage    *Usage
	nextCall int
	finished bool
}

var _ FrameAdapter[*genai.GenerateContentResponse] = (*geminiAdapter)(nil)

func newGeminiAdapter() *geminiAdapter {
	return &geminiAdapter{}
}

func (a *geminiAdapter) HandleFrame(chunk *genai.GenerateContentResponse) ([]Event, error) {
	if a.finished || chunk == nil {
		return nil, nil
	}

	if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
		a.finished = true
		return []Event{{Type: EventError, Err: &StreamError{
			Kind:   StreamErrProviderError,
			Detail: fmt.Sprintf("prompt blocked: %s", chunk.PromptFeedback.BlockReason),
		}}}, nil
	}

	var events []Event
	if len(chunk.Candidates) > 0 && chunk.Candidates[0].Content != nil {
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != "" {
				events = append(events, Event{Type: EventTextDelta, Text: part.Text})
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || len(part.FunctionCall.Args) == 0 {
					args = []byte("{}")
				}
				a.nextCall++
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", a.nextCall)
				}
				events = append(events, Event{Type: EventToolCall, Tool: &ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: json.RawMessage(args),
				}})
			}
		}
	}

	if chunk.UsageMetadata != nil && chunk.UsageMetadata.TotalTokenCount > 0 {
		a.usage = &Usage{
			InputTokens:       int(chunk.UsageMetadata.PromptTokenCount),
			OutputTokens:      int(chunk.UsageMetadata.CandidatesTokenCount),
			CachedInputTokens: int(chunk.UsageMetadata.CachedContentTokenCount),
		}
	}

	return events, nil
}

func (a *geminiAdapter) Finish() ([]Event, error) {
	if a.finished {
		return nil, nil
	}
	a.finished = true
	var events []Event
	if a.usage != nil {
		events = append(events, Event{Type: EventUsage, Use: a.usage})
	}
	return append(events, Event{Type: EventDone}), nil
}
