// Package store persists observed messages and action outcomes so a
// restarted agent keeps conversational context.
package store

import (
	"context"

	"github.com/halcyonlabs/vigil/internal/world"
)

// ArchivedMessage pairs a message with the channel ownership needed to
// replay it into world state.
type ArchivedMessage struct {
	Platform  world.Platform
	ChannelID string
	Message   world.Message
}

// Archive is the durable layer behind world state. All methods are safe for
// concurrent use.
type Archive interface {
	SaveMessage(ctx context.Context, platform world.Platform, channelID string, msg world.Message) error
	SaveActionRecord(ctx context.Context, rec world.ActionRecord) error

	// RecentMessages returns up to limit of the newest messages,
	// reordered oldest first for replay.
	RecentMessages(ctx context.Context, limit int) ([]ArchivedMessage, error)

	// RecentActionRecords returns up to limit records, oldest first.
	RecentActionRecords(ctx context.Context, limit int) ([]world.ActionRecord, error)

	Close() error
}
