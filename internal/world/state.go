package world

import (
	"fmt"
	"sync"
	"time"
)

// State is the single shared mutable resource in the process. One coarse
// mutex guards every mutation and the snapshot copy; no I/O happens while
// it is held.
type State struct {
	mu sync.Mutex

	channels      map[string]*Channel
	actionHistory []ActionRecord
	rateLimits    map[string]RateLimitStatus
	status        SystemStatus

	messagesPerChannel int
	actionHistoryCap   int
}

func NewState(messagesPerChannel, actionHistoryCap int) *State {
	if messagesPerChannel <= 0 {
		messagesPerChannel = 1
	}
	if actionHistoryCap <= 0 {
		actionHistoryCap = 1
	}
	return &State{
		channels:           make(map[string]*Channel),
		rateLimits:         make(map[string]RateLimitStatus),
		messagesPerChannel: messagesPerChannel,
		actionHistoryCap:   actionHistoryCap,
	}
}

// RecordMessage appends msg to the channel's sequence, creating the channel
// on first sight. Oldest messages are evicted FIFO past the retention cap.
func (s *State) RecordMessage(platform Platform, channelID string, msg Message) error {
	if channelID == "" {
		return fmt.Errorf("record message: empty channel id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		ch = &Channel{ID: channelID, Platform: platform}
		s.channels[channelID] = ch
	}

	msg.ChannelID = channelID
	ch.Messages = append(ch.Messages, msg)
	if excess := len(ch.Messages) - s.messagesPerChannel; excess > 0 {
		ch.Messages = append([]Message(nil), ch.Messages[excess:]...)
	}
	if msg.Timestamp.After(ch.LastActivity) {
		ch.LastActivity = msg.Timestamp
	}
	return nil
}

// RecordActionResult appends one record to the bounded action history.
func (s *State) RecordActionResult(rec ActionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actionHistory = append(s.actionHistory, rec)
	if excess := len(s.actionHistory) - s.actionHistoryCap; excess > 0 {
		s.actionHistory = append([]ActionRecord(nil), s.actionHistory[excess:]...)
	}
}

// UpdateRateLimit overwrites the entry for the platform/endpoint key.
func (s *State) UpdateRateLimit(platform Platform, endpoint string, status RateLimitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status.ObservedAt.IsZero() {
		status.ObservedAt = time.Now()
	}
	s.rateLimits[RateLimitKey(platform, endpoint)] = status
}

// RateLimit returns the entry for the key, if present.
func (s *State) RateLimit(platform Platform, endpoint string) (RateLimitStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.rateLimits[RateLimitKey(platform, endpoint)]
	return st, ok
}

// ChannelPlatform reports which platform owns the channel, if known.
func (s *State) ChannelPlatform(channelID string) (Platform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return "", false
	}
	return ch.Platform, true
}

// SetCycleOutcome records the observable result of a cycle attempt.
func (s *State) SetCycleOutcome(start time.Time, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastCycleStart = start
	s.status.LastCycleOutcome = outcome
	s.status.CyclesStarted++
	s.status.Degraded = false
	s.status.LastGatewayError = ""
}

// SetGatewayFailure marks the system degraded after a failed decision call.
func (s *State) SetGatewayFailure(start time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastCycleStart = start
	s.status.LastCycleOutcome = "gateway_error"
	s.status.LastGatewayError = err.Error()
	s.status.GatewayFailureCount++
	s.status.Degraded = true
}

// NoteDeferral counts a skipped trigger so no cycle silently disappears.
func (s *State) NoteDeferral() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.CyclesDeferred++
}

// Status returns a copy of the current system status.
func (s *State) Status() SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a deep copy of the world. The lock is held only for the
// copy, never for serialization or hashing.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Channels:      make(map[string]Channel, len(s.channels)),
		ActionHistory: append([]ActionRecord(nil), s.actionHistory...),
		RateLimits:    make(map[string]RateLimitStatus, len(s.rateLimits)),
		Status:        s.status,
		TakenAt:       time.Now(),
	}
	for id, ch := range s.channels {
		cp := *ch
		cp.Messages = append([]Message(nil), ch.Messages...)
		snap.Channels[id] = cp
	}
	for k, v := range s.rateLimits {
		snap.RateLimits[k] = v
	}
	return snap
}
