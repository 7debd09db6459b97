package ports

import (
	"context"

	"github.com/tunedeck/catalogd/pkg/cd"
)

// Broker publishes commands and reads retained presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd cd.CommandEnvelope) (cd.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]cd.Presence, error)
}

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}
