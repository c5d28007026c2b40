// Package world holds the canonical in-memory model the orchestration loop
// observes: channels, messages, action history, rate limits and system
// status. All mutation goes through State; snapshots are value copies.
package world

import "time"

// Platform identifies an observed conversational platform.
type Platform string

const (
	PlatformMatrix    Platform = "matrix"
	PlatformFarcaster Platform = "farcaster"
	PlatformTelegram  Platform = "telegram"
)

// Sender identifies the author of a message. Username is the addressable
// identity; the rest is optional platform metadata.
type Sender struct {
	Username    string            `json:"username"`
	DisplayName string            `json:"displayName,omitempty"`
	Followers   int64             `json:"followers,omitempty"`
	Verified    bool              `json:"verified,omitempty"`
	Profile     map[string]string `json:"profile,omitempty"`
}

// Message is immutable once recorded. ChannelID is a back-reference; the
// owning Channel holds the message.
type Message struct {
	ID        string            `json:"id"`
	ChannelID string            `json:"channelId"`
	Sender    Sender            `json:"sender"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	ReplyToID string            `json:"replyToId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Channel is owned exclusively by State: created on first observed message,
// evicted only via retention, never explicitly destroyed.
type Channel struct {
	ID           string    `json:"id"`
	Platform     Platform  `json:"platform"`
	Messages     []Message `json:"messages"`
	LastActivity time.Time `json:"lastActivity"`
}

// ActionOutcome classifies how an executed action ended.
type ActionOutcome string

const (
	OutcomeSuccess ActionOutcome = "success"
	OutcomeFailed  ActionOutcome = "failed"
	OutcomeSkipped ActionOutcome = "skipped"
)

// ActionRecord is the append-only result of one executed (or refused)
// action. Records are never retracted, only superseded by newer ones.
type ActionRecord struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Platform  Platform      `json:"platform,omitempty"`
	ChannelID string        `json:"channelId,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
	Content   string        `json:"content,omitempty"`
	Ref       string        `json:"ref,omitempty"` // opaque backend reference on success
	Outcome   ActionOutcome `json:"outcome"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Timestamp time.Time     `json:"timestamp"`
}

// RateLimitStatus tracks remaining quota for one platform/endpoint key.
// ObservedAt is staleness bookkeeping only and never feeds the fingerprint.
type RateLimitStatus struct {
	Remaining  int       `json:"remaining"`
	Limit      int       `json:"limit,omitempty"`
	ResetAt    time.Time `json:"resetAt"`
	ObservedAt time.Time `json:"observedAt"`
}

// SystemStatus reflects the loop's most recent posture. Entirely excluded
// from the fingerprint: the passage of time or a cycle outcome alone must
// never look like a world change.
type SystemStatus struct {
	LastCycleStart      time.Time `json:"lastCycleStart,omitempty"`
	LastCycleOutcome    string    `json:"lastCycleOutcome,omitempty"`
	LastGatewayError    string    `json:"lastGatewayError,omitempty"`
	GatewayFailureCount int       `json:"gatewayFailureCount"`
	CyclesStarted       int       `json:"cyclesStarted"`
	CyclesDeferred      int       `json:"cyclesDeferred"`
	Degraded            bool      `json:"degraded"`
}

// Snapshot is an immutable, serializable view of the world, produced on
// demand for fingerprinting and for the decision gateway. Once taken it
// does not observe further mutation.
type Snapshot struct {
	Channels      map[string]Channel         `json:"channels"`
	ActionHistory []ActionRecord             `json:"actionHistory"`
	RateLimits    map[string]RateLimitStatus `json:"rateLimits"`
	Status        SystemStatus               `json:"status"`
	TakenAt       time.Time                  `json:"takenAt"`
}

// RateLimitKey builds the map key for a platform/endpoint pair.
func RateLimitKey(platform Platform, endpoint string) string {
	if endpoint == "" {
		return string(platform)
	}
	return string(platform) + "/" + endpoint
}
