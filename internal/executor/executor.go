package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/halcyonlabs/vigil/internal/decision"
	"github.com/halcyonlabs/vigil/internal/metrics"
	"github.com/halcyonlabs/vigil/internal/world"
)

// Backend is one platform's effect surface. Every call returns an opaque
// reference id on success or a classified error.
type Backend interface {
	Platform() world.Platform
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	Reply(ctx context.Context, channelID, messageID, content string) (string, error)
	Post(ctx context.Context, content string) (string, error)
	Upload(ctx context.Context, mediaURL string) (string, error)
}

type Config struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	ActionTimeout   time.Duration
	SendsPerMinute  int
	RateLimitMaxAge time.Duration
}

type Executor struct {
	state    *world.State
	backends map[world.Platform]Backend
	limiter  *rate.Limiter
	cfg      Config
	now      func() time.Time

	// OnRecord, when set, observes every appended record (e.g. for the
	// durable archive). Called outside the world-state lock.
	OnRecord func(world.ActionRecord)
}

func New(state *world.State, cfg Config) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.SendsPerMinute <= 0 {
		cfg.SendsPerMinute = 20
	}
	if cfg.RateLimitMaxAge <= 0 {
		cfg.RateLimitMaxAge = 10 * time.Minute
	}
	return &Executor{
		state:    state,
		backends: make(map[world.Platform]Backend),
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.SendsPerMinute)/60.0), 1),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register adds a platform backend. Later registrations for the same
// platform replace earlier ones.
func (e *Executor) Register(b Backend) {
	e.backends[b.Platform()] = b
}

// Execute runs the proposed actions in order. Each action is independent:
// one failure never aborts the rest. The only early exit is cancellation of
// the whole cycle, checked between actions, never mid-attempt. Returns the
// number of ActionRecords appended.
func (e *Executor) Execute(ctx context.Context, actions []decision.Action) int {
	records := 0
	for _, action := range actions {
		if ctx.Err() != nil {
			log.Printf("[executor] cycle cancelled, %d of %d actions executed", records, len(actions))
			return records
		}
		if action.Kind == decision.ActionWait {
			continue
		}
		rec := e.run(ctx, action)
		e.state.RecordActionResult(rec)
		metrics.Actions.WithLabelValues(rec.Kind, string(rec.Outcome)).Inc()
		if e.OnRecord != nil {
			e.OnRecord(rec)
		}
		records++
	}
	return records
}

func (e *Executor) run(ctx context.Context, action decision.Action) world.ActionRecord {
	rec := world.ActionRecord{
		ID:        uuid.NewString(),
		Kind:      string(action.Kind),
		Platform:  action.Platform,
		ChannelID: action.Channel,
		MessageID: action.MessageID,
		Content:   action.Content,
		Timestamp: e.now(),
	}

	if err := action.Validate(); err != nil {
		rec.Outcome = world.OutcomeFailed
		rec.ErrorKind = string(KindInvalidInput)
		rec.Error = err.Error()
		log.Printf("[executor] rejected %s action: %v", action.Kind, err)
		return rec
	}

	platform := e.resolvePlatform(action)
	rec.Platform = platform

	backend, ok := e.backends[platform]
	if !ok {
		rec.Outcome = world.OutcomeFailed
		rec.ErrorKind = string(KindPermanent)
		rec.Error = fmt.Sprintf("no backend for platform %q", platform)
		return rec
	}

	if reason, deferred := e.quotaExhausted(platform); deferred {
		rec.Outcome = world.OutcomeSkipped
		rec.ErrorKind = string(KindRateLimited)
		rec.Error = reason
		log.Printf("[executor] deferring %s on %s: %s", action.Kind, platform, reason)
		return rec
	}

	if err := e.limiter.Wait(ctx); err != nil {
		rec.Outcome = world.OutcomeSkipped
		rec.ErrorKind = string(KindRateLimited)
		rec.Error = "cancelled while pacing"
		return rec
	}

	attempts := 0
	op := func() (string, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
		defer cancel()

		ref, err := dispatch(callCtx, backend, action)
		if err == nil {
			return ref, nil
		}
		switch Classify(err) {
		case KindTransient:
			return "", err
		default:
			// Permanent, invalid input and explicit platform rate limits
			// are not worth another attempt.
			return "", backoff.Permanent(err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialBackoff

	ref, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.cfg.MaxRetries+1)),
	)
	rec.Attempts = attempts
	if err != nil {
		rec.Outcome = world.OutcomeFailed
		rec.ErrorKind = string(Classify(err))
		rec.Error = err.Error()
		log.Printf("[executor] %s on %s failed after %d attempts: %v", action.Kind, platform, attempts, err)
		return rec
	}

	rec.Outcome = world.OutcomeSuccess
	rec.Ref = ref
	return rec
}

// resolvePlatform prefers the action's explicit platform; channel-addressed
// actions fall back to the channel's owner in world state.
func (e *Executor) resolvePlatform(action decision.Action) world.Platform {
	if action.Platform != "" {
		return action.Platform
	}
	if action.Channel != "" {
		if p, ok := e.state.ChannelPlatform(action.Channel); ok {
			return p
		}
	}
	return action.Platform
}

// quotaExhausted applies the deferral rule: a zero-remaining quota defers
// the action while the reset time has not comfortably passed, and a stale
// zero-remaining observation is presumed still exhausted.
func (e *Executor) quotaExhausted(platform world.Platform) (string, bool) {
	st, ok := e.state.RateLimit(platform, "")
	if !ok || st.Remaining > 0 {
		return "", false
	}

	now := e.now()
	if st.ResetAt.IsZero() {
		// Exhausted with no known reset: presume exhausted until the
		// observation itself ages past the safety margin.
		if now.Sub(st.ObservedAt) <= e.cfg.RateLimitMaxAge {
			return "quota exhausted, reset time unknown", true
		}
		return "", false
	}
	if now.Before(st.ResetAt) {
		return fmt.Sprintf("quota exhausted until %s", st.ResetAt.Format(time.RFC3339)), true
	}
	return "", false
}

func dispatch(ctx context.Context, b Backend, action decision.Action) (string, error) {
	switch action.Kind {
	case decision.ActionSendMessage:
		return b.SendMessage(ctx, action.Channel, action.Content)
	case decision.ActionReply:
		return b.Reply(ctx, action.Channel, action.MessageID, action.Content)
	case decision.ActionPost:
		return b.Post(ctx, action.Content)
	case decision.ActionUpload:
		return b.Upload(ctx, action.MediaURL)
	default:
		return "", InvalidInput(fmt.Errorf("unsupported action kind %q", action.Kind))
	}
}
