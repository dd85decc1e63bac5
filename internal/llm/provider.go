package llm

import "context"

// Provider issues streaming requests against one LLM backend.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ModelLister is implemented by providers that can enumerate the models
// available to the current credentials.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// FrameAdapter is the per-stream state machine shared by all providers:
// raw frames in, canonical events out. Concrete adapters type their frame
// parameter to the transport they consume; this interface documents the
// shared lifecycle. Adapters are single-threaded per stream and must be
// deterministic under replay of the same frame sequence.
type FrameAdapter[F any] interface {
	// HandleFrame processes one raw frame in arrival order and returns
	// the canonical events it produces, possibly none.
	HandleFrame(frame F) ([]Event, error)

	// Finish runs end-of-stream checks (pending usage, dangling tool
	// calls) and returns the trailing events ending with EventDone.
	Finish() ([]Event, error)
}
