package slack_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/service/slack"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	gt.NoError(t, json.NewEncoder(w).Encode(v))
}

func newTestClient(t *testing.T, mux *http.ServeMux) *slack.Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := slack.New("xoxb-test", slack.WithAPIURL(srv.URL+"/"))
	gt.NoError(t, err).Required()
	return c
}

func TestNew(t *testing.T) {
	t.Run("returns error when token is empty", func(t *testing.T) {
		_, err := slack.New("")
		gt.Value(t, err).NotNil()
	})

	t.Run("creates client when token is provided", func(t *testing.T) {
		c, err := slack.New("test-token")
		gt.NoError(t, err).Required()
		gt.Value(t, c).NotNil()
	})
}

func TestListRooms(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		gt.NoError(t, r.ParseForm())
		gt.Value(t, r.Form.Get("cursor")).Equal("abc")
		gt.Value(t, r.Form.Get("types")).Equal("public_channel,private_channel")

		writeJSON(t, w, map[string]any{
			"ok": true,
			"channels": []map[string]any{
				{"id": "C1", "name": "general", "num_members": 12, "topic": map[string]any{"value": "hello"}},
				{"id": "C2", "name": "partners", "is_private": true, "is_ext_shared": true, "num_members": 4},
				{"id": "C3", "name": "old", "is_archived": true},
			},
			"response_metadata": map[string]any{"next_cursor": "def"},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := slack.New("xoxb-test", slack.WithAPIURL(srv.URL+"/"), slack.WithPrivateChannels(true))
	gt.NoError(t, err).Required()

	page, err := c.ListRooms(t.Context(), model.PageRequest{Cursor: "abc"})
	gt.NoError(t, err).Required()
	gt.Array(t, page.Items).Length(3)
	gt.Value(t, page.NextCursor).Equal("def")
	gt.Bool(t, page.HasTotal).False()

	general := page.Items[0]
	gt.Value(t, general.ID).Equal(model.ChatRoomID("C1"))
	gt.Value(t, general.Topic).Equal("hello")
	gt.Number(t, general.MemberCount).Equal(12)
	gt.Value(t, general.Visibility).Equal(types.VisibilityPublic)
	gt.Bool(t, general.Active).True()

	partners := page.Items[1]
	gt.Value(t, partners.Visibility).Equal(types.VisibilityPrivate)
	gt.Bool(t, partners.Bridged).True()

	gt.Bool(t, page.Items[2].Active).False()
}

func TestListRoomMembers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.members", func(w http.ResponseWriter, r *http.Request) {
		gt.NoError(t, r.ParseForm())
		gt.Value(t, r.Form.Get("channel")).Equal("C1")
		writeJSON(t, w, map[string]any{
			"ok":                true,
			"members":           []string{"U1", "U2"},
			"response_metadata": map[string]any{"next_cursor": ""},
		})
	})
	c := newTestClient(t, mux)

	page, err := c.ListRoomMembers(t.Context(), "C1", model.PageRequest{})
	gt.NoError(t, err).Required()
	gt.Array(t, page.Items).Length(2)
	gt.Value(t, page.Items[0].RoomID).Equal(model.ChatRoomID("C1"))
	gt.Value(t, page.Items[1].UserID).Equal(model.DirectoryUserID("U2"))
	gt.Value(t, page.Items[0].State).Equal(types.MembershipJoined)
	gt.Value(t, page.NextCursor).Equal("")
}

func TestErrorClassification(t *testing.T) {
	t.Run("429 is rate limited with retry-after", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		})
		c := newTestClient(t, mux)

		err := c.PostToRoom(t.Context(), "C1", "hi")
		gt.Error(t, err).Is(model.ErrRateLimited)

		wait, ok := model.RetryAfter(err)
		gt.Bool(t, ok).True()
		gt.Value(t, wait).Equal(7 * time.Second)
	})

	t.Run("5xx is transient", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		c := newTestClient(t, mux)

		err := c.PostToRoom(t.Context(), "C1", "hi")
		gt.Error(t, err).Is(model.ErrTransientNetwork)
	})

	t.Run("slack error response is rejection", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"ok": false, "error": "channel_not_found"})
		})
		c := newTestClient(t, mux)

		err := c.PostToRoom(t.Context(), "C1", "hi")
		gt.Error(t, err).Is(model.ErrUpstreamRejected)
		gt.Bool(t, errors.Is(err, model.ErrTransientNetwork)).False()
	})

	t.Run("internal_error is transient", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"ok": false, "error": "internal_error"})
		})
		c := newTestClient(t, mux)

		err := c.PostToRoom(t.Context(), "C1", "hi")
		gt.Error(t, err).Is(model.ErrTransientNetwork)
	})
}

func TestInviteToRoom(t *testing.T) {
	t.Run("invites user", func(t *testing.T) {
		var called atomic.Bool
		mux := http.NewServeMux()
		mux.HandleFunc("/conversations.invite", func(w http.ResponseWriter, r *http.Request) {
			gt.NoError(t, r.ParseForm())
			gt.Value(t, r.Form.Get("channel")).Equal("C1")
			gt.Value(t, r.Form.Get("users")).Equal("U1")
			called.Store(true)
			writeJSON(t, w, map[string]any{"ok": true, "channel": map[string]any{"id": "C1"}})
		})
		c := newTestClient(t, mux)

		gt.NoError(t, c.InviteToRoom(t.Context(), "C1", "U1"))
		gt.Bool(t, called.Load()).True()
	})

	t.Run("already a member succeeds", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/conversations.invite", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"ok": false, "error": "already_in_channel"})
		})
		c := newTestClient(t, mux)

		gt.NoError(t, c.InviteToRoom(t.Context(), "C1", "U1"))
	})
}

func TestSendDirectMessage(t *testing.T) {
	var opens, posts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.open", func(w http.ResponseWriter, r *http.Request) {
		opens.Add(1)
		gt.NoError(t, r.ParseForm())
		gt.Value(t, r.Form.Get("users")).Equal("U1")
		writeJSON(t, w, map[string]any{"ok": true, "channel": map[string]any{"id": "D1"}})
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		gt.NoError(t, r.ParseForm())
		gt.Value(t, r.Form.Get("channel")).Equal("D1")
		gt.Value(t, r.Form.Get("text")).Equal("hello alice")
		writeJSON(t, w, map[string]any{"ok": true, "channel": "D1", "ts": "1.0"})
	})
	c := newTestClient(t, mux)

	gt.NoError(t, c.SendDirectMessage(t.Context(), "U1", "hello alice")).Required()
	gt.NoError(t, c.SendDirectMessage(t.Context(), "U1", "hello alice")).Required()

	// The DM channel is cached after the first open
	gt.Number(t, opens.Load()).Equal(int32(1))
	gt.Number(t, posts.Load()).Equal(int32(2))
}
