// Package slack is the client for the remote workspace directory API. It
// hides cursor pagination behind a forward-only iterator, retries rate
// limited calls with the server-supplied hint, and translates every
// failure into the closed taxonomy in errors.go.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jha-hitesh/slack-channels-proxy/internal/names"
)

const (
	defaultBaseURL             = "https://slack.com/api"
	defaultTimeout             = 10 * time.Second
	defaultMaxRateLimitRetries = 5
	defaultRateLimitDelay      = 1 * time.Second
	listPageSize               = 1000
	listChannelTypes           = "public_channel,private_channel"
)

// ChannelDescriptor is one channel as the remote API describes it.
type ChannelDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
}

// Identity is the auth.test response used to resolve the workspace a
// token belongs to.
type Identity struct {
	TeamID       string `json:"team_id"`
	EnterpriseID string `json:"enterprise_id"`
	UserID       string `json:"user_id"`
}

// WorkspaceID prefers the team id and falls back to the enterprise id.
func (i Identity) WorkspaceID() string {
	if i.TeamID != "" {
		return i.TeamID
	}
	return i.EnterpriseID
}

type ClientOptions struct {
	BaseURL             string
	Token               string
	HTTPClient          *http.Client
	MaxRateLimitRetries int
	RateLimitDelay      time.Duration
}

type Client struct {
	baseURL             string
	token               string
	httpClient          *http.Client
	maxRateLimitRetries int
	rateLimitDelay      time.Duration
	sleep               func(ctx context.Context, delay time.Duration) error
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	maxRetries := opts.MaxRateLimitRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRateLimitRetries
	}
	rateLimitDelay := opts.RateLimitDelay
	if rateLimitDelay <= 0 {
		rateLimitDelay = defaultRateLimitDelay
	}
	return &Client{
		baseURL:             baseURL,
		token:               strings.TrimSpace(opts.Token),
		httpClient:          httpClient,
		maxRateLimitRetries: maxRetries,
		rateLimitDelay:      rateLimitDelay,
		sleep:               sleepContext,
	}
}

type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// apiCall performs one logical API call, retrying only on HTTP 429 and
// decoding a successful payload into out. The bot token is checked
// before any network traffic.
func (c *Client) apiCall(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.token == "" {
		return fmt.Errorf("%w: bot token is not configured", ErrUpstream)
	}
	var bodyBytes []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyBytes = encoded
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = strings.NewReader(string(bodyBytes))
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt >= c.maxRateLimitRetries {
				return fmt.Errorf("%w after %d attempts", ErrRateLimited, attempt+1)
			}
			if err := c.sleep(ctx, c.retryAfterDelay(resp.Header.Get("Retry-After"))); err != nil {
				return err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%w: status=%d", ErrUpstream, resp.StatusCode)
		}

		var envelope apiEnvelope
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("%w: invalid response payload: %v", ErrUpstream, err)
		}
		if !envelope.OK {
			return translateErrorCode(envelope.Error)
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%w: invalid response payload: %v", ErrUpstream, err)
			}
		}
		return nil
	}
}

func (c *Client) retryAfterDelay(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return c.rateLimitDelay
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return c.rateLimitDelay
	}
	return time.Duration(seconds) * time.Second
}

type listChannelsResponse struct {
	Channels         []ChannelDescriptor `json:"channels"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// ChannelIterator walks every page of conversations.list. It is finite,
// forward-only, and not restartable: recreate it to list again. A
// transport failure mid-stream stops iteration and is reported by Err.
type ChannelIterator struct {
	client  *Client
	ctx     context.Context
	cursor  string
	buffer  []ChannelDescriptor
	index   int
	done    bool
	err     error
	current ChannelDescriptor
}

// ListChannels returns an iterator over the full channel directory.
func (c *Client) ListChannels(ctx context.Context) *ChannelIterator {
	return &ChannelIterator{client: c, ctx: ctx}
}

func (it *ChannelIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.index >= len(it.buffer) {
		if it.done {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
	}
	it.current = it.buffer[it.index]
	it.index++
	return true
}

func (it *ChannelIterator) Channel() ChannelDescriptor {
	return it.current
}

func (it *ChannelIterator) Err() error {
	return it.err
}

func (it *ChannelIterator) fetchPage() error {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(listPageSize))
	query.Set("exclude_archived", "true")
	query.Set("types", listChannelTypes)
	if it.cursor != "" {
		query.Set("cursor", it.cursor)
	}

	var page listChannelsResponse
	if err := it.client.apiCall(it.ctx, http.MethodGet, "/conversations.list", query, nil, &page); err != nil {
		return err
	}
	it.buffer = page.Channels
	it.index = 0
	it.cursor = page.ResponseMetadata.NextCursor
	if it.cursor == "" {
		it.done = true
	}
	return nil
}

type createChannelResponse struct {
	Channel ChannelDescriptor `json:"channel"`
}

// CreateChannel creates a channel with the normalized name and returns
// the descriptor the remote assigned.
func (c *Client) CreateChannel(ctx context.Context, name string) (ChannelDescriptor, error) {
	normalized := names.Normalize(name)
	payload := map[string]string{"name": normalized}

	var resp createChannelResponse
	if err := c.apiCall(ctx, http.MethodPost, "/conversations.create", nil, payload, &resp); err != nil {
		return ChannelDescriptor{}, err
	}
	if resp.Channel.ID == "" {
		return ChannelDescriptor{}, fmt.Errorf("%w: create response missing channel payload", ErrUpstream)
	}
	return resp.Channel, nil
}

// AuthTest resolves the identity behind the configured token.
func (c *Client) AuthTest(ctx context.Context) (Identity, error) {
	var identity Identity
	if err := c.apiCall(ctx, http.MethodGet, "/auth.test", nil, nil, &identity); err != nil {
		return Identity{}, err
	}
	return identity, nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
