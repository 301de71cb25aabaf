package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"agilitytrack/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the tracker HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

func dogPath(dogID string, rest ...string) (string, error) {
	if strings.TrimSpace(dogID) == "" {
		return "", ErrEmptyDogID
	}
	p := "/dogs/" + url.PathEscape(dogID)
	for _, r := range rest {
		p += "/" + r
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

// CreateDog registers a dog. Without classes the dog is entered in all of them.
func (c *Client) CreateDog(ctx context.Context, dog NewDog) (core.Dog, error) {
	var out core.Dog
	err := c.do(ctx, http.MethodPost, "/dogs", dog, &out)
	return out, err
}

// GetDog fetches a dog and its current class levels.
func (c *Client) GetDog(ctx context.Context, dogID string) (core.Dog, error) {
	p, err := dogPath(dogID)
	if err != nil {
		return core.Dog{}, err
	}
	var out core.Dog
	err = c.do(ctx, http.MethodGet, p, nil, &out)
	return out, err
}

func (c *Client) ListDogs(ctx context.Context) ([]core.Dog, error) {
	var out struct {
		Dogs []core.Dog `json:"dogs"`
	}
	err := c.do(ctx, http.MethodGet, "/dogs", nil, &out)
	return out.Dogs, err
}

// RecordRun stores a run. LevelUp is set on the result when the run moved
// the dog up a level.
func (c *Client) RecordRun(ctx context.Context, dogID string, run RunRequest) (RunResult, error) {
	p, err := dogPath(dogID, "runs")
	if err != nil {
		return RunResult{}, err
	}
	var out RunResult
	err = c.do(ctx, http.MethodPost, p, run, &out)
	return out, err
}

// ImportRuns bulk-loads history and returns the resulting recalculation.
func (c *Client) ImportRuns(ctx context.Context, dogID string, runs []RunRequest) (ImportResult, error) {
	p, err := dogPath(dogID, "runs", "import")
	if err != nil {
		return ImportResult{}, err
	}
	var out ImportResult
	err = c.do(ctx, http.MethodPost, p, map[string]any{"runs": runs}, &out)
	return out, err
}

// Progress fetches the dog's progress report.
func (c *Client) Progress(ctx context.Context, dogID string) (Progress, error) {
	p, err := dogPath(dogID, "progress")
	if err != nil {
		return Progress{}, err
	}
	var out Progress
	err = c.do(ctx, http.MethodGet, p, nil, &out)
	return out, err
}

// Recalculate rebuilds the dog's levels from its full history.
func (c *Client) Recalculate(ctx context.Context, dogID string) (Recalculation, error) {
	p, err := dogPath(dogID, "recalculate")
	if err != nil {
		return Recalculation{}, err
	}
	var out Recalculation
	err = c.do(ctx, http.MethodPost, p, nil, &out)
	return out, err
}

// Leaderboard returns the top dogs by lifetime MACH points.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var out struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/leaderboard?limit=%d", limit), nil, &out)
	return out.Entries, err
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty dogID limits the stream to that dog. The returned channel
// closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, dogID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if dogID != "" {
		target += "?dog_id=" + url.QueryEscape(dogID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
