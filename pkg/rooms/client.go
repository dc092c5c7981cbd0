// Package rooms 封装会议房间服务：创建房间和签发入会 token。
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"avatarlink/pkg/logic/session"
)

// Client 房间服务的 REST 客户端
type Client struct {
	endpoint   string
	authToken  string
	apiKey     string
	secretKey  string
	httpClient *http.Client
}

func NewClient(endpoint, authToken, apiKey, secretKey string) *Client {
	return &Client{
		endpoint:  endpoint,
		authToken: authToken,
		apiKey:    apiKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateMeeting 创建一个新房间，返回房间 ID
func (c *Client) CreateMeeting(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/rooms", c.endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rooms: create meeting: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("rooms: create meeting: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("rooms: decode create meeting response: %v", err)
	}
	if body.RoomID == "" {
		return "", fmt.Errorf("rooms: create meeting response missing roomId")
	}
	return body.RoomID, nil
}

var _ session.RoomService = (*Client)(nil)
