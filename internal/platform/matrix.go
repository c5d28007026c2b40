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

const matrixSyncTimeoutMs = 30000

// MatrixConnector speaks the client-server API directly: a sync long-poll
// observer and event PUTs for sends. Rooms outside the configured allow
// list are ignored when the list is non-empty.
type MatrixConnector struct {
	homeserver  string
	accessToken string
	userID      string
	rooms       []string
	httpClient  *http.Client
	bus         *bus.Bus
	nextBatch   string
	txnCounter  int64
	cancel      context.CancelFunc
}

func NewMatrixConnector(cfg config.MatrixConfig, b *bus.Bus) (*MatrixConnector, error) {
	if cfg.Homeserver == "" {
		return nil, fmt.Errorf("matrix homeserver is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("matrix access token is required")
	}
	return &MatrixConnector{
		homeserver:  cfg.Homeserver,
		accessToken: cfg.AccessToken,
		userID:      cfg.UserID,
		rooms:       cfg.Rooms,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		bus:         b,
		txnCounter:  time.Now().UnixNano(),
	}, nil
}

func (m *MatrixConnector) Platform() world.Platform {
	return world.PlatformMatrix
}

func (m *MatrixConnector) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.syncLoop(ctx)
	log.Printf("[matrix] sync loop started against %s", m.homeserver)
	return nil
}

func (m *MatrixConnector) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

type matrixSyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events []matrixEvent `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

type matrixEvent struct {
	Type     string `json:"type"`
	EventID  string `json:"event_id"`
	Sender   string `json:"sender"`
	OriginTS int64  `json:"origin_server_ts"`
	Content  struct {
		MsgType   string `json:"msgtype"`
		Body      string `json:"body"`
		RelatesTo struct {
			InReplyTo struct {
				EventID string `json:"event_id"`
			} `json:"m.in_reply_to"`
		} `json:"m.relates_to"`
	} `json:"content"`
}

func (m *MatrixConnector) syncLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.syncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[matrix] sync warning: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *MatrixConnector) syncOnce(ctx context.Context) error {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(matrixSyncTimeoutMs))
	if m.nextBatch != "" {
		q.Set("since", m.nextBatch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.homeserver+"/_matrix/client/v3/sync?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		m.handleRateLimit(ctx, resp)
		return fmt.Errorf("sync rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sync status %d: %s", resp.StatusCode, body)
	}

	var sync matrixSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&sync); err != nil {
		return fmt.Errorf("decode sync response: %w", err)
	}

	// The first sync returns history we did not observe live; skip it and
	// only record messages from then on.
	initial := m.nextBatch == ""
	m.nextBatch = sync.NextBatch
	if initial {
		return nil
	}

	for roomID, room := range sync.Rooms.Join {
		if !m.roomAllowed(roomID) {
			continue
		}
		for _, ev := range room.Timeline.Events {
			if ev.Type != "m.room.message" || ev.Content.Body == "" {
				continue
			}
			if m.userID != "" && ev.Sender == m.userID {
				continue // our own echoes
			}
			msg := world.Message{
				ID:        ev.EventID,
				Sender:    world.Sender{Username: ev.Sender},
				Content:   ev.Content.Body,
				Timestamp: time.UnixMilli(ev.OriginTS),
				ReplyToID: ev.Content.RelatesTo.InReplyTo.EventID,
			}
			if err := m.bus.PublishMessage(ctx, world.PlatformMatrix, roomID, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MatrixConnector) roomAllowed(roomID string) bool {
	if len(m.rooms) == 0 {
		return true
	}
	for _, r := range m.rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (m *MatrixConnector) handleRateLimit(ctx context.Context, resp *http.Response) {
	var body struct {
		ErrCode      string `json:"errcode"`
		RetryAfterMs int64  `json:"retry_after_ms"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	status := world.RateLimitStatus{Remaining: 0, ObservedAt: time.Now()}
	if body.RetryAfterMs > 0 {
		status.ResetAt = time.Now().Add(time.Duration(body.RetryAfterMs) * time.Millisecond)
	}
	if err := m.bus.PublishRateLimit(ctx, world.PlatformMatrix, "", status); err != nil {
		log.Printf("[matrix] publish rate limit warning: %v", err)
	}
}

func (m *MatrixConnector) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	return m.putEvent(ctx, channelID, map[string]any{
		"msgtype": "m.text",
		"body":    content,
	})
}

func (m *MatrixConnector) Reply(ctx context.Context, channelID, messageID, content string) (string, error) {
	return m.putEvent(ctx, channelID, map[string]any{
		"msgtype": "m.text",
		"body":    content,
		"m.relates_to": map[string]any{
			"m.in_reply_to": map[string]any{"event_id": messageID},
		},
	})
}

func (m *MatrixConnector) Post(ctx context.Context, content string) (string, error) {
	return "", executor.Permanent(fmt.Errorf("matrix has no platform-level feed"))
}

// Upload fetches the media and pushes it to the homeserver's media
// repository, returning the mxc content URI.
func (m *MatrixConnector) Upload(ctx context.Context, mediaURL string) (string, error) {
	fetch, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", executor.InvalidInput(fmt.Errorf("media url: %w", err))
	}
	fetchResp, err := m.httpClient.Do(fetch)
	if err != nil {
		return "", executor.Transient(fmt.Errorf("fetch media: %w", err))
	}
	defer fetchResp.Body.Close()
	if fetchResp.StatusCode != http.StatusOK {
		return "", executor.Permanent(fmt.Errorf("fetch media: status %d", fetchResp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(fetchResp.Body, 10<<20))
	if err != nil {
		return "", executor.Transient(fmt.Errorf("read media: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.homeserver+"/_matrix/media/v3/upload", bytes.NewReader(data))
	if err != nil {
		return "", executor.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	contentType := fetchResp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", executor.Transient(err)
	}
	defer resp.Body.Close()
	if err := m.classifyStatus(ctx, resp); err != nil {
		return "", err
	}

	var uploaded struct {
		ContentURI string `json:"content_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", executor.Transient(fmt.Errorf("decode upload response: %w", err))
	}
	return uploaded.ContentURI, nil
}

func (m *MatrixConnector) putEvent(ctx context.Context, roomID string, content map[string]any) (string, error) {
	m.txnCounter++
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%d",
		m.homeserver, url.PathEscape(roomID), m.txnCounter)

	payload, err := json.Marshal(content)
	if err != nil {
		return "", executor.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", executor.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", executor.Transient(err)
	}
	defer resp.Body.Close()
	if err := m.classifyStatus(ctx, resp); err != nil {
		return "", err
	}

	var sent struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return "", executor.Transient(fmt.Errorf("decode send response: %w", err))
	}
	return sent.EventID, nil
}

func (m *MatrixConnector) classifyStatus(ctx context.Context, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		m.handleRateLimit(ctx, resp)
		return executor.RateLimited(fmt.Errorf("matrix status %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return executor.Permanent(fmt.Errorf("matrix status %d: %s", resp.StatusCode, body))
	default:
		return executor.Transient(fmt.Errorf("matrix status %d", resp.StatusCode))
	}
}
