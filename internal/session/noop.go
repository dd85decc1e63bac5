package session

import "context"

// NoopStore satisfies Store when persistence is disabled.
type NoopStore struct{}

func (s *NoopStore) Create(ctx context.Context, sess *Session) error   { return nil }
func (s *NoopStore) Get(ctx context.Context, id string) (*Session, error) {
	return nil, ErrDisabled
}
func (s *NoopStore) Delete(ctx context.Context, id string) error { return nil }
func (s *NoopStore) List(ctx context.Context, limit int) ([]Summary, error) {
	return nil, nil
}
func (s *NoopStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	return nil
}
func (s *NoopStore) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return nil, nil
}
func (s *NoopStore) UpdateMetrics(ctx context.Context, id string, rounds, toolCalls, inputTokens, outputTokens int) error {
	return nil
}
func (s *NoopStore) Close() error { return nil }
