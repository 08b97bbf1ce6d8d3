package events

import "context"

// NoOpPublisher is a publisher that drops every event.
type NoOpPublisher struct{}

// Publish does nothing.
func (p *NoOpPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}
