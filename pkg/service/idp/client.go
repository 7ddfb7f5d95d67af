// Package idp is the identity provider adapter. It speaks a page-number REST
// listing whose envelope carries pagination{count, current, next}; a missing
// "next" with count still ahead is the truncation case the fetcher recovers.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/utils/safe"
)

const (
	// DefaultPageSize is used when a page request leaves the size open
	DefaultPageSize = 100
	defaultTimeout  = 30 * time.Second
)

// Client lists users of the identity provider
type Client struct {
	baseURL       *url.URL
	token         string
	httpClient    *http.Client
	modifiedSince bool
	now           func() time.Time
}

var _ interfaces.DirectoryProvider = &Client{}

// Option is a functional option for client configuration
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithModifiedSince declares that the provider honours the modified_since
// query parameter, enabling incremental syncs
func WithModifiedSince(supported bool) Option {
	return func(cl *Client) {
		cl.modifiedSince = supported
	}
}

// New creates a client for the directory API rooted at baseURL
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, goerr.New("identity provider URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid identity provider URL", goerr.V("url", baseURL))
	}

	c := &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type userResponse struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	Email          string    `json:"email"`
	BridgeIdentity string    `json:"bridge_identity"`
	Active         bool      `json:"active"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type pagination struct {
	Count   *int `json:"count"`
	Current int  `json:"current"`
	Next    *int `json:"next"`
}

type listResponse struct {
	Users      []userResponse `json:"users"`
	Pagination *pagination    `json:"pagination"`
}

// SupportsModifiedSince reports whether incremental listing is available
func (c *Client) SupportsModifiedSince() bool {
	return c.modifiedSince
}

// ListUsers returns one page of users
func (c *Client) ListUsers(ctx context.Context, req model.PageRequest) (*model.Page[*model.DirectoryUser], error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(size))
	if c.modifiedSince && !req.ModifiedSince.IsZero() {
		q.Set("modified_since", req.ModifiedSince.UTC().Format(time.RFC3339))
	}

	var resp listResponse
	if err := c.get(ctx, "/users", q, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to list identity provider users", goerr.V(model.PageKey, page))
	}

	now := c.now()
	result := &model.Page[*model.DirectoryUser]{
		Items:       make([]*model.DirectoryUser, 0, len(resp.Users)),
		CurrentPage: page,
	}
	for _, u := range resp.Users {
		result.Items = append(result.Items, &model.DirectoryUser{
			ID:             model.DirectoryUserID(u.ID),
			DisplayName:    u.DisplayName,
			Email:          u.Email,
			BridgeIdentity: u.BridgeIdentity,
			Active:         u.Active,
			LastSeenAt:     u.LastSeenAt,
			RemoteUpdated:  u.UpdatedAt,
			SyncedAt:       now,
		})
	}

	if p := resp.Pagination; p != nil {
		if p.Current > 0 {
			result.CurrentPage = p.Current
		}
		if p.Next != nil {
			result.NextPage = *p.Next
		}
		if p.Count != nil {
			result.Total = *p.Count
			result.HasTotal = true
		}
	}
	return result, nil
}

// CountUsers asks for a one-record page and reads the reported count
func (c *Client) CountUsers(ctx context.Context) (int, bool, error) {
	page, err := c.ListUsers(ctx, model.PageRequest{Page: 1, PageSize: 1})
	if err != nil {
		return 0, false, goerr.Wrap(err, "failed to count users")
	}
	return page.Total, page.HasTotal, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return goerr.Wrap(err, "failed to build request", goerr.V("url", u.String()))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return goerr.Wrap(model.ErrTransientNetwork, "request failed", goerr.V("cause", err.Error()))
		}
		return goerr.Wrap(err, "request failed")
	}
	defer safe.DrainClose(ctx, resp.Body)

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(model.ErrTransientNetwork, "failed to decode response", goerr.V("cause", err.Error()))
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil

	case code == http.StatusTooManyRequests:
		return goerr.Wrap(&model.RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))},
			"rate limited by identity provider", goerr.V("status", code))

	case code >= 500 || code == http.StatusRequestTimeout:
		return goerr.Wrap(model.ErrTransientNetwork, "identity provider unavailable", goerr.V("status", code))

	default:
		return goerr.Wrap(model.ErrUpstreamRejected, "identity provider rejected request", goerr.V("status", code))
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
