package bus

import (
	"context"

	"github.com/halcyonlabs/vigil/internal/world"
)

// Event is the append-only unit observers push toward the core. Observers
// never read world state back through the bus.
type Event struct {
	Message   *MessageEvent
	RateLimit *RateLimitEvent
}

type MessageEvent struct {
	Platform  world.Platform
	ChannelID string
	Message   world.Message
}

type RateLimitEvent struct {
	Platform world.Platform
	Endpoint string
	Status   world.RateLimitStatus
}

func (e Event) Kind() string {
	switch {
	case e.Message != nil:
		return "message"
	case e.RateLimit != nil:
		return "rate_limit"
	default:
		return "empty"
	}
}

// Bus is the bounded observer→core channel. A full bus applies backpressure
// to the publishing observer rather than dropping events.
type Bus struct {
	events chan Event
}

func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Bus{events: make(chan Event, bufSize)}
}

// Publish blocks until the event is accepted or ctx is cancelled.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Events() <-chan Event {
	return b.events
}

// PublishMessage is a convenience wrapper for observers.
func (b *Bus) PublishMessage(ctx context.Context, platform world.Platform, channelID string, msg world.Message) error {
	return b.Publish(ctx, Event{Message: &MessageEvent{Platform: platform, ChannelID: channelID, Message: msg}})
}

// PublishRateLimit is a convenience wrapper for observers.
func (b *Bus) PublishRateLimit(ctx context.Context, platform world.Platform, endpoint string, status world.RateLimitStatus) error {
	return b.Publish(ctx, Event{RateLimit: &RateLimitEvent{Platform: platform, Endpoint: endpoint, Status: status}})
}
