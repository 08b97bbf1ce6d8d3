package events

import (
	"context"
)

// Publisher defines the interface for handing domain events to notification dispatch.
// Delivery is best effort: engines log a failed publish and carry on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
