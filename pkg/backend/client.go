// Package backend 对接虚拟形象渲染后端：REST 建会和 websocket 媒体流。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"avatarlink/pkg/logger"
	"avatarlink/pkg/logic/session"
)

const (
	startSessionRetries = 3
	startSessionBackoff = 2 * time.Second
)

// Client 后端 REST 客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type startSessionPayload struct {
	AgentID string `json:"agent_id"`
	Room    struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	} `json:"room"`
	Resolution    string `json:"resolution"`
	FaceID        string `json:"face_id"`
	BackgroundURL string `json:"background_url,omitempty"`
}

// StartSession 通知后端加入房间并开始渲染，带重试
func (c *Client) StartSession(ctx context.Context, req session.StartSessionRequest) error {
	payload := startSessionPayload{
		AgentID:       req.AgentID,
		Resolution:    req.Resolution,
		FaceID:        req.FaceID,
		BackgroundURL: req.BackgroundURL,
	}
	payload.Room.ID = req.RoomID
	payload.Room.Token = req.RoomToken

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < startSessionRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("backend: start-session attempt %d failed: %v", attempt, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(startSessionBackoff):
			}
		}
		lastErr = c.postStartSession(ctx, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("backend: start-session failed after %d attempts: %w", startSessionRetries, lastErr)
}

func (c *Client) postStartSession(ctx context.Context, body []byte) error {
	url := fmt.Sprintf("%s/start-session", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ session.BackendStarter = (*Client)(nil)
