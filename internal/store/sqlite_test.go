package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/halcyonlabs/vigil/internal/world"
)

func openTestArchive(t *testing.T) Archive {
	t.Helper()
	a, err := NewSQLite(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestMessageRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	msg := world.Message{
		ID:        "m1",
		Sender:    world.Sender{Username: "alice", DisplayName: "Alice", Followers: 10},
		Content:   "hello archive",
		Timestamp: ts,
		ReplyToID: "m0",
	}
	if err := a.SaveMessage(ctx, world.PlatformMatrix, "!room:x", msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := a.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	am := got[0]
	if am.Platform != world.PlatformMatrix || am.ChannelID != "!room:x" {
		t.Errorf("archived = %+v", am)
	}
	if am.Message.Content != "hello archive" || am.Message.ReplyToID != "m0" {
		t.Errorf("message = %+v", am.Message)
	}
	if am.Message.Sender.Username != "alice" || am.Message.Sender.Followers != 10 {
		t.Errorf("sender = %+v", am.Message.Sender)
	}
	if !am.Message.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %s, want %s", am.Message.Timestamp, ts)
	}
}

func TestSaveMessageIdempotent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	msg := world.Message{ID: "m1", Sender: world.Sender{Username: "a"}, Content: "x", Timestamp: time.Now()}

	if err := a.SaveMessage(ctx, world.PlatformTelegram, "c1", msg); err != nil {
		t.Fatal(err)
	}
	if err := a.SaveMessage(ctx, world.PlatformTelegram, "c1", msg); err != nil {
		t.Fatalf("duplicate save should be ignored, got %v", err)
	}

	got, err := a.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1 after duplicate insert", len(got))
	}
}

func TestRecentMessagesOldestFirstWithLimit(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		msg := world.Message{
			ID: fmt.Sprintf("m%d", i), Sender: world.Sender{Username: "a"},
			Content: fmt.Sprintf("msg %d", i), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := a.SaveMessage(ctx, world.PlatformTelegram, "c1", msg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := a.RecentMessages(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Newest three, replayed oldest first.
	if got[0].Message.ID != "m2" || got[2].Message.ID != "m4" {
		t.Errorf("order = %s..%s, want m2..m4", got[0].Message.ID, got[2].Message.ID)
	}
}

func TestActionRecordRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	ts := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)

	rec := world.ActionRecord{
		ID:        "rec1",
		Kind:      "reply",
		Platform:  world.PlatformTelegram,
		ChannelID: "c1",
		MessageID: "m1",
		Content:   "pong",
		Ref:       "99",
		Outcome:   world.OutcomeSuccess,
		Attempts:  2,
		Timestamp: ts,
	}
	if err := a.SaveActionRecord(ctx, rec); err != nil {
		t.Fatalf("SaveActionRecord: %v", err)
	}

	failed := world.ActionRecord{
		ID: "rec2", Kind: "post", Platform: world.PlatformFarcaster,
		Outcome: world.OutcomeFailed, ErrorKind: "permanent", Error: "invalid signer",
		Attempts: 1, Timestamp: ts.Add(time.Minute),
	}
	if err := a.SaveActionRecord(ctx, failed); err != nil {
		t.Fatal(err)
	}

	got, err := a.RecentActionRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentActionRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "rec1" || got[1].ID != "rec2" {
		t.Errorf("order = %s,%s, want rec1,rec2", got[0].ID, got[1].ID)
	}
	if got[0].Ref != "99" || got[0].Attempts != 2 || got[0].Outcome != world.OutcomeSuccess {
		t.Errorf("rec1 = %+v", got[0])
	}
	if got[1].ErrorKind != "permanent" || got[1].Error != "invalid signer" {
		t.Errorf("rec2 = %+v", got[1])
	}
}

func TestEmptyArchive(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	msgs, err := a.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %d, want 0", len(msgs))
	}

	recs, err := a.RecentActionRecords(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestArchivePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.db")
	ctx := context.Background()

	a, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	msg := world.Message{ID: "m1", Sender: world.Sender{Username: "a"}, Content: "survives", Timestamp: time.Now()}
	if err := a.SaveMessage(ctx, world.PlatformTelegram, "c1", msg); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message.Content != "survives" {
		t.Errorf("got = %+v", got)
	}
}
