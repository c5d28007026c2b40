package bus

import (
	"context"
	"testing"
	"time"

	"github.com/halcyonlabs/vigil/internal/world"
)

func TestPublishAndReceive(t *testing.T) {
	b := New(4)
	msg := world.Message{ID: "m1", Sender: world.Sender{Username: "alice"}, Content: "hi", Timestamp: time.Now()}

	if err := b.PublishMessage(context.Background(), world.PlatformTelegram, "chat1", msg); err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}

	ev := <-b.Events()
	if ev.Kind() != "message" {
		t.Fatalf("kind = %q, want message", ev.Kind())
	}
	if ev.Message.ChannelID != "chat1" || ev.Message.Message.ID != "m1" {
		t.Errorf("event = %+v", ev.Message)
	}
}

func TestPublishRateLimit(t *testing.T) {
	b := New(4)
	st := world.RateLimitStatus{Remaining: 0, Limit: 10, ObservedAt: time.Now()}

	if err := b.PublishRateLimit(context.Background(), world.PlatformFarcaster, "cast", st); err != nil {
		t.Fatal(err)
	}

	ev := <-b.Events()
	if ev.Kind() != "rate_limit" {
		t.Fatalf("kind = %q, want rate_limit", ev.Kind())
	}
	if ev.RateLimit.Endpoint != "cast" || ev.RateLimit.Status.Remaining != 0 {
		t.Errorf("event = %+v", ev.RateLimit)
	}
}

func TestPublishBackpressureRespectsContext(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	if err := b.Publish(ctx, Event{Message: &MessageEvent{}}); err != nil {
		t.Fatal(err)
	}

	// Bus is full; a cancelled context must unblock the publisher.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := b.Publish(cancelled, Event{Message: &MessageEvent{}})
	if err == nil {
		t.Error("expected context error on full bus")
	}
}

func TestEventKindEmpty(t *testing.T) {
	if got := (Event{}).Kind(); got != "empty" {
		t.Errorf("kind = %q, want empty", got)
	}
}
