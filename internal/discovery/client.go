// Package discovery performs the HTTP lookups that precede opening a session
// socket: interactive hosts, channel ids, chat servers and the current user.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vntrieu/mixplay/internal/auth"
)

// DefaultBaseURL is the public REST root.
const DefaultBaseURL = "https://mixer.com/api/v1"

const maxBodyBytes = 1 << 20

// ErrNoEndpoints is returned when a lookup succeeds but lists nothing to connect to.
var ErrNoEndpoints = errors.New("discovery: no endpoints")

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discovery: %s returned %d: %s", e.URL, e.Code, e.Body)
}

// ChatServers is the chat discovery result.
type ChatServers struct {
	Endpoints   []string `json:"endpoints"`
	AuthKey     string   `json:"authkey"`
	Permissions []string `json:"permissions"`
}

// User is the authenticated user.
type User struct {
	ID       uint32 `json:"id"`
	Username string `json:"username"`
	Channel  struct {
		ID    uint32 `json:"id"`
		Token string `json:"token"`
	} `json:"channel"`
}

// Client talks to the REST API with retries on transient failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryBase  time.Duration
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the exponential backoff base and retry count.
func WithRetry(base time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		c.retryBase = base
		c.maxRetries = maxRetries
	}
}

// New returns a Client rooted at baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retryBase:  250 * time.Millisecond,
		maxRetries: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InteractiveHosts returns websocket addresses in the order the service prefers them.
func (c *Client) InteractiveHosts(ctx context.Context) ([]string, error) {
	var hosts []struct {
		Address string `json:"address"`
	}
	if err := c.getJSON(ctx, "/interactive/hosts", auth.Credentials{}, &hosts); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h.Address != "" {
			out = append(out, h.Address)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoEndpoints
	}
	return out, nil
}

// ChannelID resolves a room (channel token or numeric id) to a channel id.
func (c *Client) ChannelID(ctx context.Context, room string) (uint32, error) {
	if id, err := strconv.ParseUint(room, 10, 32); err == nil {
		return uint32(id), nil
	}
	var body struct {
		ID *uint32 `json:"id"`
	}
	if err := c.getJSON(ctx, "/channels/"+url.PathEscape(room)+"?fields=id", auth.Credentials{}, &body); err != nil {
		return 0, err
	}
	if body.ID == nil {
		return 0, fmt.Errorf("discovery: channel %q response has no id", room)
	}
	return *body.ID, nil
}

// ChatServers fetches the chat endpoints, auth key and permissions for a channel.
// Anonymous credentials yield anonymous permissions and no auth key.
func (c *Client) ChatServers(ctx context.Context, channelID uint32, creds auth.Credentials) (*ChatServers, error) {
	var out ChatServers
	path := fmt.Sprintf("/chats/%d", channelID)
	if err := c.getJSON(ctx, path, creds, &out); err != nil {
		return nil, err
	}
	if len(out.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return &out, nil
}

// CurrentUser returns the user owning creds.
func (c *Client) CurrentUser(ctx context.Context, creds auth.Credentials) (*User, error) {
	if creds.Anonymous() {
		return nil, errors.New("discovery: current user requires credentials")
	}
	var u User
	if err := c.getJSON(ctx, "/users/current", creds, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) getJSON(ctx context.Context, path string, creds auth.Credentials, out interface{}) error {
	target := c.baseURL + path
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		creds.Apply(req.Header)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Printf("discovery: request failed path=%s attempt=%d err=%v", path, attempt, err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			log.Printf("discovery: transient status path=%s attempt=%d status=%d", path, attempt, resp.StatusCode)
			return retry.RetryableError(&StatusError{URL: path, Code: resp.StatusCode, Body: string(body)})
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{URL: path, Code: resp.StatusCode, Body: string(body)}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}
