package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/halcyonlabs/vigil/internal/bus"
	"github.com/halcyonlabs/vigil/internal/config"
	"github.com/halcyonlabs/vigil/internal/executor"
	"github.com/halcyonlabs/vigil/internal/world"
)

const (
	farcasterDefaultBaseURL      = "https://api.neynar.com"
	farcasterDefaultPollInterval = 30 * time.Second
)

// FarcasterConnector polls mention notifications through a Neynar-style
// gateway and publishes casts. Channel id is the conversation's thread
// hash. Rate-limit response headers are forwarded into world state on
// every poll.
type FarcasterConnector struct {
	baseURL      string
	apiKey       string
	signerUUID   string
	fid          int64
	pollInterval time.Duration
	httpClient   *http.Client
	bus          *bus.Bus
	seen         map[string]bool
	cancel       context.CancelFunc
}

func NewFarcasterConnector(cfg config.FarcasterConfig, b *bus.Bus) (*FarcasterConnector, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("farcaster api key is required")
	}
	if cfg.SignerUUID == "" {
		return nil, fmt.Errorf("farcaster signer uuid is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = farcasterDefaultBaseURL
	}
	pollInterval := farcasterDefaultPollInterval
	if cfg.PollInterval != "" {
		if d, err := time.ParseDuration(cfg.PollInterval); err == nil && d > 0 {
			pollInterval = d
		}
	}
	return &FarcasterConnector{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		signerUUID:   cfg.SignerUUID,
		fid:          cfg.FID,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		bus:          b,
		seen:         make(map[string]bool),
	}, nil
}

func (f *FarcasterConnector) Platform() world.Platform {
	return world.PlatformFarcaster
}

func (f *FarcasterConnector) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)
	go f.pollLoop(ctx)
	log.Printf("[farcaster] polling started (fid=%d every %s)", f.fid, f.pollInterval)
	return nil
}

func (f *FarcasterConnector) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *FarcasterConnector) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := f.pollOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[farcaster] poll warning: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

type farcasterCast struct {
	Hash       string `json:"hash"`
	ThreadHash string `json:"thread_hash"`
	ParentHash string `json:"parent_hash"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
	Author     struct {
		Username      string `json:"username"`
		DisplayName   string `json:"display_name"`
		FollowerCount int64  `json:"follower_count"`
		PowerBadge    bool   `json:"power_badge"`
	} `json:"author"`
}

func (f *FarcasterConnector) pollOnce(ctx context.Context) error {
	q := url.Values{}
	q.Set("fid", strconv.FormatInt(f.fid, 10))
	q.Set("type", "mentions")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v2/farcaster/notifications?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f.forwardRateLimit(ctx, resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notifications status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Notifications []struct {
			Cast farcasterCast `json:"cast"`
		} `json:"notifications"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode notifications: %w", err)
	}

	for _, n := range payload.Notifications {
		cast := n.Cast
		if cast.Hash == "" || f.seen[cast.Hash] {
			continue
		}
		f.seen[cast.Hash] = true

		ts, err := time.Parse(time.RFC3339, cast.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		channelID := cast.ThreadHash
		if channelID == "" {
			channelID = cast.Hash
		}
		msg := world.Message{
			ID: cast.Hash,
			Sender: world.Sender{
				Username:    cast.Author.Username,
				DisplayName: cast.Author.DisplayName,
				Followers:   cast.Author.FollowerCount,
				Verified:    cast.Author.PowerBadge,
			},
			Content:   cast.Text,
			Timestamp: ts,
			ReplyToID: cast.ParentHash,
		}
		if err := f.bus.PublishMessage(ctx, world.PlatformFarcaster, channelID, msg); err != nil {
			return err
		}
	}
	return nil
}

// forwardRateLimit pushes the gateway's x-ratelimit headers into world
// state so the executor can defer before burning a request.
func (f *FarcasterConnector) forwardRateLimit(ctx context.Context, resp *http.Response) {
	remainingHdr := resp.Header.Get("x-ratelimit-remaining")
	if remainingHdr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingHdr)
	if err != nil {
		return
	}
	status := world.RateLimitStatus{Remaining: remaining, ObservedAt: time.Now()}
	if limit, err := strconv.Atoi(resp.Header.Get("x-ratelimit-limit")); err == nil {
		status.Limit = limit
	}
	if reset, err := strconv.ParseInt(resp.Header.Get("x-ratelimit-reset"), 10, 64); err == nil {
		status.ResetAt = time.Unix(reset, 0)
	}
	if err := f.bus.PublishRateLimit(ctx, world.PlatformFarcaster, "", status); err != nil {
		log.Printf("[farcaster] publish rate limit warning: %v", err)
	}
}

type farcasterCastRequest struct {
	SignerUUID string           `json:"signer_uuid"`
	Text       string           `json:"text"`
	Parent     string           `json:"parent,omitempty"`
	Embeds     []farcasterEmbed `json:"embeds,omitempty"`
}

type farcasterEmbed struct {
	URL string `json:"url"`
}

func (f *FarcasterConnector) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	// A message into a conversation is a reply to the thread root.
	return f.publishCast(ctx, farcasterCastRequest{SignerUUID: f.signerUUID, Text: content, Parent: channelID})
}

func (f *FarcasterConnector) Reply(ctx context.Context, channelID, messageID, content string) (string, error) {
	return f.publishCast(ctx, farcasterCastRequest{SignerUUID: f.signerUUID, Text: content, Parent: messageID})
}

func (f *FarcasterConnector) Post(ctx context.Context, content string) (string, error) {
	return f.publishCast(ctx, farcasterCastRequest{SignerUUID: f.signerUUID, Text: content})
}

func (f *FarcasterConnector) Upload(ctx context.Context, mediaURL string) (string, error) {
	return f.publishCast(ctx, farcasterCastRequest{
		SignerUUID: f.signerUUID,
		Embeds:     []farcasterEmbed{{URL: mediaURL}},
	})
}

func (f *FarcasterConnector) publishCast(ctx context.Context, cast farcasterCastRequest) (string, error) {
	payload, err := json.Marshal(cast)
	if err != nil {
		return "", executor.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v2/farcaster/cast", bytes.NewReader(payload))
	if err != nil {
		return "", executor.Permanent(err)
	}
	req.Header.Set("x-api-key", f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", executor.Transient(err)
	}
	defer resp.Body.Close()

	f.forwardRateLimit(ctx, resp)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", executor.RateLimited(fmt.Errorf("cast status %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", executor.Permanent(fmt.Errorf("cast status %d: %s", resp.StatusCode, body))
	default:
		return "", executor.Transient(fmt.Errorf("cast status %d", resp.StatusCode))
	}

	var created struct {
		Cast struct {
			Hash string `json:"hash"`
		} `json:"cast"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", executor.Transient(fmt.Errorf("decode cast response: %w", err))
	}
	return created.Cast.Hash, nil
}
