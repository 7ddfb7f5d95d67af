// Package slack adapts the Slack Web API to the chat platform contract:
// channels are rooms, conversation members are memberships and externally
// shared (Slack Connect) channels are the bridged room category.
package slack

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/slack-go/slack"
)

const (
	// DefaultCacheTTL is the default TTL for direct message channel cache
	DefaultCacheTTL = 10 * time.Minute
	// DefaultPageSize is used when a page request leaves the size open
	DefaultPageSize = 200
)

// cacheEntry holds a cached DM channel ID with expiration
type cacheEntry struct {
	channelID string
	expiresAt time.Time
}

// Client implements interfaces.ChatProvider on the Slack Web API
type Client struct {
	api            *slack.Client
	apiURL         string
	teamID         string
	includePrivate bool
	cacheTTL       time.Duration
	now            func() time.Time

	mu      sync.RWMutex
	dmCache map[model.DirectoryUserID]cacheEntry
}

// Option is a functional option for client configuration
type Option func(*Client)

// WithCacheTTL sets the TTL for the direct message channel cache
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithAPIURL points the client at another endpoint. The URL must end with "/".
func WithAPIURL(u string) Option {
	return func(c *Client) {
		c.apiURL = u
	}
}

// WithTeamID restricts listings to one workspace of an Enterprise Grid org
func WithTeamID(teamID string) Option {
	return func(c *Client) {
		c.teamID = teamID
	}
}

// WithPrivateChannels includes private channels in room listings. Requires
// the groups:read scope.
func WithPrivateChannels(include bool) Option {
	return func(c *Client) {
		c.includePrivate = include
	}
}

// New creates a new Slack client with the provided bot token
func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}

	c := &Client{
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
		dmCache:  make(map[model.DirectoryUserID]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	var apiOpts []slack.Option
	if c.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(c.apiURL))
	}
	c.api = slack.New(token, apiOpts...)

	return c, nil
}

func pageSize(req model.PageRequest) int {
	if req.PageSize > 0 {
		return req.PageSize
	}
	return DefaultPageSize
}

// ListRooms returns one page of channels. Slack reports no total count.
func (c *Client) ListRooms(ctx context.Context, req model.PageRequest) (*model.Page[*model.ChatRoom], error) {
	convTypes := []string{conversationPublic}
	if c.includePrivate {
		convTypes = append(convTypes, conversationPrivate)
	}

	channels, nextCursor, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Cursor:          req.Cursor,
		ExcludeArchived: false,
		Limit:           pageSize(req),
		Types:           convTypes,
		TeamID:          c.teamID,
	})
	if err != nil {
		return nil, classify(err, "failed to list conversations", goerr.V("cursor", req.Cursor))
	}

	now := c.now()
	rooms := make([]*model.ChatRoom, 0, len(channels))
	for _, ch := range channels {
		rooms = append(rooms, toChatRoom(ch, now))
	}

	return &model.Page[*model.ChatRoom]{
		Items:      rooms,
		NextCursor: nextCursor,
	}, nil
}

func toChatRoom(ch slack.Channel, now time.Time) *model.ChatRoom {
	visibility := types.VisibilityPublic
	if ch.IsPrivate {
		visibility = types.VisibilityPrivate
	}

	return &model.ChatRoom{
		ID:          model.ChatRoomID(ch.ID),
		Name:        ch.Name,
		Topic:       ch.Topic.Value,
		MemberCount: ch.NumMembers,
		Visibility:  visibility,
		Bridged:     ch.IsExtShared || ch.IsPendingExtShared,
		Active:      !ch.IsArchived,
		SyncedAt:    now,
	}
}

// ListRoomMembers returns one page of member IDs of a channel as joined
// memberships
func (c *Client) ListRoomMembers(ctx context.Context, roomID model.ChatRoomID, req model.PageRequest) (*model.Page[*model.Membership], error) {
	userIDs, nextCursor, err := c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
		ChannelID: string(roomID),
		Cursor:    req.Cursor,
		Limit:     pageSize(req),
	})
	if err != nil {
		return nil, classify(err, "failed to list conversation members",
			goerr.V("room_id", roomID), goerr.V("cursor", req.Cursor))
	}

	now := c.now()
	members := make([]*model.Membership, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, &model.Membership{
			RoomID:   roomID,
			UserID:   model.DirectoryUserID(id),
			State:    types.MembershipJoined,
			SyncedAt: now,
		})
	}

	return &model.Page[*model.Membership]{
		Items:      members,
		NextCursor: nextCursor,
	}, nil
}

// InviteToRoom invites one user. Inviting a current member succeeds.
func (c *Client) InviteToRoom(ctx context.Context, roomID model.ChatRoomID, userID model.DirectoryUserID) error {
	if _, err := c.api.InviteUsersToConversationContext(ctx, string(roomID), string(userID)); err != nil {
		if isAlreadyDone(err) {
			return nil
		}
		return classify(err, "failed to invite user",
			goerr.V("room_id", roomID), goerr.V("user_id", userID))
	}
	return nil
}

// SendDirectMessage opens (or reuses) the DM channel and posts text
func (c *Client) SendDirectMessage(ctx context.Context, userID model.DirectoryUserID, text string) error {
	channelID, err := c.openDM(ctx, userID)
	if err != nil {
		return err
	}

	if _, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false)); err != nil {
		return classify(err, "failed to post direct message",
			goerr.V("user_id", userID), goerr.V("channel_id", channelID))
	}
	return nil
}

// PostToRoom posts text to a channel
func (c *Client) PostToRoom(ctx context.Context, roomID model.ChatRoomID, text string) error {
	if _, _, err := c.api.PostMessageContext(ctx, string(roomID), slack.MsgOptionText(text, false)); err != nil {
		return classify(err, "failed to post message", goerr.V("room_id", roomID))
	}
	return nil
}

func (c *Client) openDM(ctx context.Context, userID model.DirectoryUserID) (string, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.dmCache[userID]
	c.mu.RUnlock()
	if ok && entry.expiresAt.After(now) {
		return entry.channelID, nil
	}

	ch, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{string(userID)},
		ReturnIM: true,
	})
	if err != nil {
		return "", classify(err, "failed to open direct message", goerr.V("user_id", userID))
	}

	c.mu.Lock()
	c.dmCache[userID] = cacheEntry{channelID: ch.ID, expiresAt: now.Add(c.cacheTTL)}
	c.mu.Unlock()

	return ch.ID, nil
}

func isAlreadyDone(err error) bool {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		_, ok := alreadyDoneErrorCodes[resp.Err]
		return ok
	}
	return false
}

// classify maps a Slack library error onto the model error taxonomy
func classify(err error, msg string, opts ...goerr.Option) error {
	opts = append(opts, goerr.V("cause", err.Error()))

	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return goerr.Wrap(&model.RateLimitedError{RetryAfter: rateLimited.RetryAfter, Cause: err}, msg, opts...)
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return goerr.Wrap(model.ErrTransientNetwork, msg, append(opts, goerr.V("status", statusErr.Code))...)
		}
		return goerr.Wrap(model.ErrUpstreamRejected, msg, append(opts, goerr.V("status", statusErr.Code))...)
	}

	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		if resp.Err == "ratelimited" {
			return goerr.Wrap(&model.RateLimitedError{Cause: err}, msg, opts...)
		}
		if _, ok := transientErrorCodes[resp.Err]; ok {
			return goerr.Wrap(model.ErrTransientNetwork, msg, opts...)
		}
		return goerr.Wrap(model.ErrUpstreamRejected, msg, append(opts, goerr.V("slack_error", resp.Err))...)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return goerr.Wrap(model.ErrTransientNetwork, msg, opts...)
	}

	return goerr.Wrap(err, msg, opts...)
}
