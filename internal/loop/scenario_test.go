package loop

import (
	"context"
	"testing"
	"time"

	"github.com/halcyonlabs/vigil/internal/decision"
	"github.com/halcyonlabs/vigil/internal/executor"
	"github.com/halcyonlabs/vigil/internal/world"
)

type replyBackend struct {
	replies int
}

func (b *replyBackend) Platform() world.Platform { return world.PlatformTelegram }

func (b *replyBackend) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	return "ref-send", nil
}

func (b *replyBackend) Reply(ctx context.Context, channelID, messageID, content string) (string, error) {
	b.replies++
	return "ref-reply", nil
}

func (b *replyBackend) Post(ctx context.Context, content string) (string, error) {
	return "ref-post", nil
}

func (b *replyBackend) Upload(ctx context.Context, mediaURL string) (string, error) {
	return "ref-upload", nil
}

// End to end: an observed "hello" triggers one cycle whose reply lands in the
// action history, and the reference fingerprint settles on the snapshot that
// contained the message.
func TestHelloTriggersReply(t *testing.T) {
	state := world.NewState(100, 100)
	backend := &replyBackend{}
	exec := executor.New(state, executor.Config{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		ActionTimeout:  time.Second,
		SendsPerMinute: 60000,
	})
	exec.Register(backend)

	dec := &fakeDecider{actions: []decision.Action{
		{Kind: decision.ActionReply, Channel: "C1", MessageID: "m1", Content: "hi"},
	}}
	s, _ := testScheduler(state, dec, exec)

	err := state.RecordMessage(world.PlatformTelegram, "C1", world.Message{
		ID: "m1", Sender: world.Sender{Username: "alice"}, Content: "hello",
		Timestamp: time.Date(2026, 8, 1, 11, 59, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	helloFP := world.Fingerprint(state.Snapshot())

	s.tick(context.Background())

	if backend.replies != 1 {
		t.Fatalf("backend replies = %d, want 1", backend.replies)
	}
	snap := state.Snapshot()
	if len(snap.Channels["C1"].Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(snap.Channels["C1"].Messages))
	}
	if len(snap.ActionHistory) != 1 {
		t.Fatalf("action history = %d, want 1", len(snap.ActionHistory))
	}
	rec := snap.ActionHistory[0]
	if rec.Outcome != world.OutcomeSuccess || rec.Ref != "ref-reply" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Platform != world.PlatformTelegram {
		t.Errorf("platform = %q, want telegram (resolved from channel)", rec.Platform)
	}

	ref, primed := s.Reference()
	if !primed || ref != helloFP {
		t.Errorf("reference = %016x primed=%v, want the hello snapshot %016x", ref, primed, helloFP)
	}
}
