package world

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func mkMsg(id, content string, ts time.Time) Message {
	return Message{
		ID:        id,
		Sender:    Sender{Username: "alice"},
		Content:   content,
		Timestamp: ts,
	}
}

func TestRecordMessageCreatesChannel(t *testing.T) {
	s := NewState(10, 10)
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.RecordMessage(PlatformMatrix, "!room:example.org", mkMsg("$1", "hello", ts)); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}

	snap := s.Snapshot()
	ch, ok := snap.Channels["!room:example.org"]
	if !ok {
		t.Fatal("channel not created on first message")
	}
	if ch.Platform != PlatformMatrix {
		t.Errorf("platform = %q, want matrix", ch.Platform)
	}
	if len(ch.Messages) != 1 || ch.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v, want one hello", ch.Messages)
	}
	if !ch.LastActivity.Equal(ts) {
		t.Errorf("lastActivity = %s, want %s", ch.LastActivity, ts)
	}
}

func TestRecordMessageEmptyChannelID(t *testing.T) {
	s := NewState(10, 10)
	if err := s.RecordMessage(PlatformTelegram, "", mkMsg("1", "x", time.Now())); err == nil {
		t.Error("expected error for empty channel id")
	}
}

func TestMessageRetentionFIFO(t *testing.T) {
	s := NewState(3, 10)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		msg := mkMsg(fmt.Sprintf("m%d", i), fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Minute))
		if err := s.RecordMessage(PlatformTelegram, "chat1", msg); err != nil {
			t.Fatal(err)
		}
	}

	snap := s.Snapshot()
	msgs := snap.Channels["chat1"].Messages
	if len(msgs) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(msgs))
	}
	if msgs[0].ID != "m2" || msgs[2].ID != "m4" {
		t.Errorf("retained ids = %s..%s, want m2..m4", msgs[0].ID, msgs[2].ID)
	}
}

func TestActionHistoryCap(t *testing.T) {
	s := NewState(10, 2)
	for i := 0; i < 4; i++ {
		s.RecordActionResult(ActionRecord{ID: fmt.Sprintf("a%d", i), Kind: "reply", Outcome: OutcomeSuccess})
	}

	snap := s.Snapshot()
	if len(snap.ActionHistory) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(snap.ActionHistory))
	}
	if snap.ActionHistory[0].ID != "a2" || snap.ActionHistory[1].ID != "a3" {
		t.Errorf("retained = %s,%s, want a2,a3", snap.ActionHistory[0].ID, snap.ActionHistory[1].ID)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewState(10, 10)
	ts := time.Now()
	if err := s.RecordMessage(PlatformFarcaster, "0xthread", mkMsg("h1", "first", ts)); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if err := s.RecordMessage(PlatformFarcaster, "0xthread", mkMsg("h2", "second", ts)); err != nil {
		t.Fatal(err)
	}

	if got := len(snap.Channels["0xthread"].Messages); got != 1 {
		t.Errorf("snapshot observed later mutation: len = %d, want 1", got)
	}
}

func TestChannelPlatform(t *testing.T) {
	s := NewState(10, 10)
	if err := s.RecordMessage(PlatformTelegram, "chat9", mkMsg("1", "x", time.Now())); err != nil {
		t.Fatal(err)
	}

	p, ok := s.ChannelPlatform("chat9")
	if !ok || p != PlatformTelegram {
		t.Errorf("ChannelPlatform = %q,%v, want telegram,true", p, ok)
	}
	if _, ok := s.ChannelPlatform("unknown"); ok {
		t.Error("unknown channel reported as known")
	}
}

func TestRateLimitUpdateAndGet(t *testing.T) {
	s := NewState(10, 10)
	reset := time.Now().Add(time.Minute)
	s.UpdateRateLimit(PlatformFarcaster, "cast", RateLimitStatus{Remaining: 0, Limit: 100, ResetAt: reset})

	st, ok := s.RateLimit(PlatformFarcaster, "cast")
	if !ok {
		t.Fatal("rate limit not found")
	}
	if st.Remaining != 0 || st.Limit != 100 {
		t.Errorf("status = %+v", st)
	}
	if st.ObservedAt.IsZero() {
		t.Error("ObservedAt not defaulted")
	}
}

func TestCycleOutcomeClearsDegraded(t *testing.T) {
	s := NewState(10, 10)
	start := time.Now()

	s.SetGatewayFailure(start, fmt.Errorf("boom"))
	if st := s.Status(); !st.Degraded || st.GatewayFailureCount != 1 {
		t.Errorf("after failure: %+v", st)
	}

	s.SetCycleOutcome(start, "2 action records")
	st := s.Status()
	if st.Degraded {
		t.Error("degraded not cleared by successful cycle")
	}
	if st.LastGatewayError != "" {
		t.Errorf("lastGatewayError = %q, want empty", st.LastGatewayError)
	}
	if st.CyclesStarted != 1 {
		t.Errorf("cyclesStarted = %d, want 1", st.CyclesStarted)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := NewState(1000, 1000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.RecordMessage(PlatformTelegram, fmt.Sprintf("chat%d", w), mkMsg(fmt.Sprintf("m%d-%d", w, i), "x", time.Now()))
				s.RecordActionResult(ActionRecord{ID: fmt.Sprintf("a%d-%d", w, i), Kind: "post", Outcome: OutcomeSuccess})
				_ = s.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	if len(snap.Channels) != 8 {
		t.Errorf("channels = %d, want 8", len(snap.Channels))
	}
	if len(snap.ActionHistory) != 400 {
		t.Errorf("history = %d, want 400", len(snap.ActionHistory))
	}
}
