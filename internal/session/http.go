package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/campus-chat/internal/types"
)

// APIError is an error body returned by the server.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Kind, e.Message)
}

// HTTPClient talks to the REST API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) History(ctx context.Context, counterpartId int) ([]types.Message, error) {
	var msgs []types.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+strconv.Itoa(counterpartId), nil, &msgs)
	return msgs, err
}

func (c *HTTPClient) SendMessage(ctx context.Context, req types.SendMessageRequest) (types.Message, error) {
	var msg types.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", req, &msg)
	return msg, err
}

// Me returns the account the token belongs to.
func (c *HTTPClient) Me(ctx context.Context) (types.User, error) {
	var u types.User
	err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, &u)
	return u, err
}

func (c *HTTPClient) Conversations(ctx context.Context) ([]types.Conversation, error) {
	var convs []types.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &convs)
	return convs, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// WebsocketURL derives the realtime endpoint from a REST base URL.
func WebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
