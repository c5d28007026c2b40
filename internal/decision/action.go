// Package decision defines the contract with the AI decision service: the
// closed set of proposed actions, the request shape, and the Anthropic-backed
// implementation of the call.
package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/halcyonlabs/vigil/internal/world"
)

type ActionKind string

const (
	ActionWait        ActionKind = "wait"
	ActionSendMessage ActionKind = "send_message"
	ActionReply       ActionKind = "reply"
	ActionPost        ActionKind = "post"
	ActionUpload      ActionKind = "upload"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionWait, ActionSendMessage, ActionReply, ActionPost, ActionUpload:
		return true
	default:
		return false
	}
}

// Action is a proposed instruction from the decision gateway: not yet
// validated, not yet executed. Rationale is for logging only.
type Action struct {
	Kind      ActionKind     `json:"kind"`
	Platform  world.Platform `json:"platform,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	MediaURL  string         `json:"media_url,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
}

// Validate checks the required fields for the action's kind. Malformed
// actions are rejected here and never reach a platform backend.
func (a Action) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	switch a.Kind {
	case ActionWait:
		return nil
	case ActionSendMessage:
		if a.Channel == "" {
			return fmt.Errorf("send_message: channel required")
		}
		if strings.TrimSpace(a.Content) == "" {
			return fmt.Errorf("send_message: content required")
		}
	case ActionReply:
		if a.Channel == "" {
			return fmt.Errorf("reply: channel required")
		}
		if a.MessageID == "" {
			return fmt.Errorf("reply: message_id required")
		}
		if strings.TrimSpace(a.Content) == "" {
			return fmt.Errorf("reply: content required")
		}
	case ActionPost:
		if a.Platform == "" {
			return fmt.Errorf("post: platform required")
		}
		if strings.TrimSpace(a.Content) == "" {
			return fmt.Errorf("post: content required")
		}
	case ActionUpload:
		if a.Platform == "" {
			return fmt.Errorf("upload: platform required")
		}
		if a.MediaURL == "" {
			return fmt.Errorf("upload: media_url required")
		}
	}
	return nil
}

// ParseActions extracts the first JSON array from raw model output and
// decodes it into actions. Unknown kinds are dropped at this boundary. A
// reply with no parseable array yields zero actions, not an error: the
// contract treats a malformed response as "do nothing".
func ParseActions(raw string) ([]Action, bool) {
	start := strings.Index(raw, "[")
	if start < 0 {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(raw[start:]))
	var parsed []Action
	if err := dec.Decode(&parsed); err != nil {
		return nil, false
	}

	actions := parsed[:0]
	for _, a := range parsed {
		if !a.Kind.Valid() {
			continue
		}
		actions = append(actions, a)
	}
	return actions, true
}

// Truncate enforces the per-cycle action ceiling positionally. The second
// return reports whether anything was cut.
func Truncate(actions []Action, max int) ([]Action, bool) {
	if max <= 0 || len(actions) <= max {
		return actions, false
	}
	return actions[:max], true
}
