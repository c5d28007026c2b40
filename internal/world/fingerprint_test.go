package world

import (
	"testing"
	"time"
)

func fpState() *State {
	s := NewState(10, 10)
	ts := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	_ = s.RecordMessage(PlatformMatrix, "!a:x", Message{ID: "$1", Sender: Sender{Username: "bob"}, Content: "hi", Timestamp: ts})
	_ = s.RecordMessage(PlatformTelegram, "42", Message{ID: "7", Sender: Sender{Username: "carol"}, Content: "yo", Timestamp: ts})
	s.RecordActionResult(ActionRecord{ID: "a1", Kind: "reply", Outcome: OutcomeSuccess, Attempts: 1, Timestamp: ts})
	s.UpdateRateLimit(PlatformFarcaster, "", RateLimitStatus{Remaining: 5, Limit: 10, ObservedAt: ts})
	return s
}

func TestFingerprintDeterministic(t *testing.T) {
	s := fpState()
	fp1 := Fingerprint(s.Snapshot())
	fp2 := Fingerprint(s.Snapshot())
	if fp1 != fp2 {
		t.Errorf("same content hashed differently: %016x vs %016x", fp1, fp2)
	}
}

func TestFingerprintIgnoresCaptureTime(t *testing.T) {
	s := fpState()
	snap1 := s.Snapshot()
	time.Sleep(2 * time.Millisecond)
	snap2 := s.Snapshot()
	if !snap2.TakenAt.After(snap1.TakenAt) {
		t.Fatal("snapshots should have distinct TakenAt")
	}
	if Fingerprint(snap1) != Fingerprint(snap2) {
		t.Error("capture time leaked into fingerprint")
	}
}

func TestFingerprintIgnoresSystemStatus(t *testing.T) {
	s := fpState()
	before := Fingerprint(s.Snapshot())
	s.SetCycleOutcome(time.Now(), "3 action records")
	s.NoteDeferral()
	after := Fingerprint(s.Snapshot())
	if before != after {
		t.Error("system status leaked into fingerprint")
	}
}

func TestFingerprintIgnoresRateLimitObservedAt(t *testing.T) {
	s := fpState()
	before := Fingerprint(s.Snapshot())
	st, _ := s.RateLimit(PlatformFarcaster, "")
	st.ObservedAt = st.ObservedAt.Add(time.Hour)
	s.UpdateRateLimit(PlatformFarcaster, "", st)
	after := Fingerprint(s.Snapshot())
	if before != after {
		t.Error("rate limit ObservedAt leaked into fingerprint")
	}
}

func TestFingerprintChangesOnNewMessage(t *testing.T) {
	s := fpState()
	before := Fingerprint(s.Snapshot())
	_ = s.RecordMessage(PlatformMatrix, "!a:x", Message{ID: "$2", Sender: Sender{Username: "bob"}, Content: "more", Timestamp: time.Now()})
	after := Fingerprint(s.Snapshot())
	if before == after {
		t.Error("new message did not change fingerprint")
	}
}

func TestFingerprintChangesOnActionRecord(t *testing.T) {
	s := fpState()
	before := Fingerprint(s.Snapshot())
	s.RecordActionResult(ActionRecord{ID: "a2", Kind: "post", Outcome: OutcomeFailed, Attempts: 3, Timestamp: time.Now()})
	after := Fingerprint(s.Snapshot())
	if before == after {
		t.Error("new action record did not change fingerprint")
	}
}

func TestFingerprintChangesOnRateLimitQuota(t *testing.T) {
	s := fpState()
	before := Fingerprint(s.Snapshot())
	s.UpdateRateLimit(PlatformFarcaster, "", RateLimitStatus{Remaining: 0, Limit: 10})
	after := Fingerprint(s.Snapshot())
	if before == after {
		t.Error("quota change did not change fingerprint")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Length prefixes keep adjacent fields from merging: "ab"+"c" must not
	// collide with "a"+"bc".
	ts := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s1 := NewState(10, 10)
	_ = s1.RecordMessage(PlatformTelegram, "c1", Message{ID: "ab", Sender: Sender{Username: "c"}, Timestamp: ts})
	s2 := NewState(10, 10)
	_ = s2.RecordMessage(PlatformTelegram, "c1", Message{ID: "a", Sender: Sender{Username: "bc"}, Timestamp: ts})

	if Fingerprint(s1.Snapshot()) == Fingerprint(s2.Snapshot()) {
		t.Error("adjacent fields collided")
	}
}

func TestRateLimitKey(t *testing.T) {
	if got := RateLimitKey(PlatformMatrix, ""); got != "matrix" {
		t.Errorf("key = %q, want matrix", got)
	}
	if got := RateLimitKey(PlatformFarcaster, "cast"); got != "farcaster/cast" {
		t.Errorf("key = %q, want farcaster/cast", got)
	}
}
