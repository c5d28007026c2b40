package world

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes a deterministic hash over the semantic content of a
// snapshot. Two snapshots that differ only in capture time, staleness
// bookkeeping or system status hash identically: channels are walked in
// sorted id order, messages in insertion order, action history in recorded
// order, rate limits in sorted key order.
func Fingerprint(snap Snapshot) uint64 {
	d := xxhash.New()

	channelIDs := make([]string, 0, len(snap.Channels))
	for id := range snap.Channels {
		channelIDs = append(channelIDs, id)
	}
	sort.Strings(channelIDs)

	for _, id := range channelIDs {
		ch := snap.Channels[id]
		writeString(d, "chan")
		writeString(d, ch.ID)
		writeString(d, string(ch.Platform))
		for _, msg := range ch.Messages {
			writeString(d, "msg")
			writeString(d, msg.ID)
			writeString(d, msg.Sender.Username)
			writeString(d, msg.Sender.DisplayName)
			writeString(d, msg.Content)
			writeTime(d, msg.Timestamp)
			writeString(d, msg.ReplyToID)
		}
	}

	for _, rec := range snap.ActionHistory {
		writeString(d, "act")
		writeString(d, rec.ID)
		writeString(d, rec.Kind)
		writeString(d, string(rec.Platform))
		writeString(d, rec.ChannelID)
		writeString(d, rec.MessageID)
		writeString(d, string(rec.Outcome))
		writeString(d, rec.ErrorKind)
		writeUint64(d, uint64(rec.Attempts))
		writeTime(d, rec.Timestamp)
	}

	limitKeys := make([]string, 0, len(snap.RateLimits))
	for k := range snap.RateLimits {
		limitKeys = append(limitKeys, k)
	}
	sort.Strings(limitKeys)

	for _, k := range limitKeys {
		rl := snap.RateLimits[k]
		writeString(d, "rl")
		writeString(d, k)
		writeUint64(d, uint64(int64(rl.Remaining)))
		writeUint64(d, uint64(int64(rl.Limit)))
		writeTime(d, rl.ResetAt)
		// rl.ObservedAt deliberately excluded: staleness alone is not change.
	}

	return d.Sum64()
}

// writeString length-prefixes fields so adjacent values cannot collide.
func writeString(d *xxhash.Digest, s string) {
	writeUint64(d, uint64(len(s)))
	_, _ = d.WriteString(s)
}

func writeUint64(d *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, _ = d.Write(buf[:])
}

func writeTime(d *xxhash.Digest, t time.Time) {
	if t.IsZero() {
		writeUint64(d, 0)
		return
	}
	writeUint64(d, uint64(t.UnixNano()))
}
