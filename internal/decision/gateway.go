package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/halcyonlabs/vigil/internal/world"
)

// Request carries one serialized world view plus the depth knobs that bound
// how much of it reaches the model.
type Request struct {
	Snapshot           world.Snapshot
	MaxActions         int
	MessageDepth       int
	ActionHistoryDepth int
}

// Decider is the decision-gateway boundary (allows faking in tests).
type Decider interface {
	Decide(ctx context.Context, req Request) ([]Action, error)
}

// GatewayError wraps any failure of the decision call: transport errors,
// timeouts, or an unusable response. A cycle that sees one aborts without
// advancing the change detector.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string { return "decision gateway: " + e.Err.Error() }
func (e *GatewayError) Unwrap() error { return e.Err }

// IsGatewayError reports whether err is (or wraps) a GatewayError.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

const systemPrompt = `You are the decision core of an autonomous social agent.
You receive a JSON snapshot of the conversations the agent observes, its
recent action history, and its current rate-limit posture. Decide what the
agent should do next.

Respond with ONLY a JSON array of at most %d actions. Each action is an
object with a "kind" field:
  {"kind":"wait","rationale":"..."}
  {"kind":"send_message","channel":"...","content":"...","rationale":"..."}
  {"kind":"reply","channel":"...","message_id":"...","content":"...","rationale":"..."}
  {"kind":"post","platform":"...","content":"...","rationale":"..."}
  {"kind":"upload","platform":"...","media_url":"...","rationale":"..."}

Never send a message you already sent: check the action history. If nothing
needs doing, return [{"kind":"wait"}].`

// anthropicMessages is the slice of the SDK surface the decider uses
// (allows mocking without a network).
type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// AnthropicDecider implements Decider with a single bounded completion call.
type AnthropicDecider struct {
	msgs      anthropicMessages
	model     anthropicsdk.Model
	maxTokens int
	timeout   time.Duration
}

type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func NewAnthropicDecider(cfg AnthropicConfig) (*AnthropicDecider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic decider: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropicsdk.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &AnthropicDecider{
		msgs:      &client.Messages,
		model:     anthropicsdk.Model(cfg.Model),
		maxTokens: maxTokens,
		timeout:   timeout,
	}, nil
}

func (d *AnthropicDecider) Decide(ctx context.Context, req Request) ([]Action, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, &GatewayError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.msgs.New(ctx, anthropicsdk.MessageNewParams{
		Model:     d.model,
		MaxTokens: int64(d.maxTokens),
		System: []anthropicsdk.TextBlockParam{
			{Text: fmt.Sprintf(systemPrompt, req.MaxActions)},
		},
		Messages: []anthropicsdk.MessageParam{
			{
				Role: anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{
					anthropicsdk.NewTextBlock(prompt),
				},
			},
		},
	})
	if err != nil {
		return nil, &GatewayError{Err: err}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Text != "" {
			sb.WriteString(block.Text)
		}
	}

	actions, ok := ParseActions(sb.String())
	if !ok {
		// Output with no action array is an explicit do-nothing decision,
		// not a GatewayError: only transport and timeout failures abort
		// the cycle and hold the detector reference.
		log.Printf("[decision] unparseable gateway response, treating as zero actions: %s", truncate(sb.String(), 120))
		return nil, nil
	}
	if truncated, cut := Truncate(actions, req.MaxActions); cut {
		log.Printf("[decision] gateway proposed %d actions, truncating to %d", len(actions), req.MaxActions)
		actions = truncated
	}
	return actions, nil
}

// promptView is the depth-bounded form of the snapshot sent to the model.
type promptView struct {
	Channels   []promptChannel            `json:"channels"`
	Actions    []world.ActionRecord       `json:"recent_actions"`
	RateLimits map[string]promptRateLimit `json:"rate_limits"`
	Status     world.SystemStatus         `json:"status"`
}

type promptChannel struct {
	ID       string          `json:"id"`
	Platform world.Platform  `json:"platform"`
	Messages []world.Message `json:"messages"`
}

type promptRateLimit struct {
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at,omitempty"`
}

// BuildPrompt serializes a snapshot bounded by the request's depth limits.
func BuildPrompt(req Request) (string, error) {
	view := promptView{
		RateLimits: make(map[string]promptRateLimit, len(req.Snapshot.RateLimits)),
		Status:     req.Snapshot.Status,
	}

	for _, ch := range req.Snapshot.Channels {
		msgs := ch.Messages
		if req.MessageDepth > 0 && len(msgs) > req.MessageDepth {
			msgs = msgs[len(msgs)-req.MessageDepth:]
		}
		view.Channels = append(view.Channels, promptChannel{ID: ch.ID, Platform: ch.Platform, Messages: msgs})
	}
	// Channel map iteration is unordered; the model sees a stable order.
	sort.Slice(view.Channels, func(i, j int) bool { return view.Channels[i].ID < view.Channels[j].ID })

	actions := req.Snapshot.ActionHistory
	if req.ActionHistoryDepth > 0 && len(actions) > req.ActionHistoryDepth {
		actions = actions[len(actions)-req.ActionHistoryDepth:]
	}
	view.Actions = actions

	for k, rl := range req.Snapshot.RateLimits {
		pv := promptRateLimit{Remaining: rl.Remaining}
		if !rl.ResetAt.IsZero() {
			pv.ResetAt = rl.ResetAt.UTC().Format(time.RFC3339)
		}
		view.RateLimits[k] = pv
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize snapshot: %w", err)
	}
	return "Current world state:\n" + string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
