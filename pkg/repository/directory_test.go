package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

func newUser(id string, name string) *model.DirectoryUser {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.DirectoryUser{
		ID:          model.DirectoryUserID(id),
		DisplayName: name,
		Email:       name + "@example.com",
		Active:      true,
		LastSeenAt:  now,
		SyncedAt:    now,
	}
}

func runDirectoryUserRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Upsert is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		users := []*model.DirectoryUser{newUser("idp:1", "alice"), newUser("idp:2", "bob")}
		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, users)).Required()
		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, users)).Required()

		n, err := repo.DirectoryUser().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(2)

		got, err := repo.DirectoryUser().Get(ctx, "idp:1")
		gt.NoError(t, err).Required()
		gt.Value(t, got.DisplayName).Equal("alice")
		gt.Value(t, got.Email).Equal("alice@example.com")
		gt.Bool(t, got.Active).True()
	})

	t.Run("Upsert replaces remote fields", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{newUser("idp:1", "alice")})).Required()
		renamed := newUser("idp:1", "alice.renamed")
		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{renamed})).Required()

		got, err := repo.DirectoryUser().Get(ctx, "idp:1")
		gt.NoError(t, err).Required()
		gt.Value(t, got.DisplayName).Equal("alice.renamed")
	})

	t.Run("Upsert rejects user without ID", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.DirectoryUser().Upsert(context.Background(), []*model.DirectoryUser{{DisplayName: "ghost"}})
		gt.Error(t, err).Is(model.ErrUpstreamRejected)
	})

	t.Run("IDs containing slash are stored", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{newUser("idp:org/42", "carol")})).Required()
		got, err := repo.DirectoryUser().Get(ctx, "idp:org/42")
		gt.NoError(t, err).Required()
		gt.Value(t, got.ID).Equal(model.DirectoryUserID("idp:org/42"))
	})

	t.Run("MarkStaleExcept deactivates unseen users only", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{
			newUser("idp:1", "alice"),
			newUser("idp:2", "bob"),
			newUser("idp:3", "carol"),
		})).Required()

		n, err := repo.DirectoryUser().MarkStaleExcept(ctx, []model.DirectoryUserID{"idp:1", "idp:3"})
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(1)

		bob, err := repo.DirectoryUser().Get(ctx, "idp:2")
		gt.NoError(t, err).Required()
		gt.Bool(t, bob.Active).False()

		count, err := repo.DirectoryUser().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, count).Equal(2)

		// Already inactive records are not counted again
		n, err = repo.DirectoryUser().MarkStaleExcept(ctx, []model.DirectoryUserID{"idp:1", "idp:3"})
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(0)
	})

	t.Run("List applies filter and limit", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		inactive := newUser("idp:3", "carol")
		inactive.Active = false
		bridged := newUser("idp:2", "bob")
		bridged.BridgeIdentity = "+15550100"
		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{
			newUser("idp:1", "alice"), bridged, inactive,
		})).Required()

		all, err := repo.DirectoryUser().List(ctx, model.UserFilter{})
		gt.NoError(t, err).Required()
		gt.Array(t, all).Length(3)
		gt.Value(t, all[0].ID).Equal(model.DirectoryUserID("idp:1"))

		active, err := repo.DirectoryUser().List(ctx, model.UserFilter{ActiveOnly: true})
		gt.NoError(t, err).Required()
		gt.Array(t, active).Length(2)

		yes := true
		onlyBridged, err := repo.DirectoryUser().List(ctx, model.UserFilter{Bridged: &yes})
		gt.NoError(t, err).Required()
		gt.Array(t, onlyBridged).Length(1)
		gt.Value(t, onlyBridged[0].ID).Equal(model.DirectoryUserID("idp:2"))

		limited, err := repo.DirectoryUser().List(ctx, model.UserFilter{Limit: 1})
		gt.NoError(t, err).Required()
		gt.Array(t, limited).Length(1)

		byName, err := repo.DirectoryUser().List(ctx, model.UserFilter{NameContains: "ALI"})
		gt.NoError(t, err).Required()
		gt.Array(t, byName).Length(1)
	})

	t.Run("Get returns not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.DirectoryUser().Get(context.Background(), "idp:missing")
		gt.Value(t, err).NotNil()
		gt.Bool(t, isNotFound(err)).True()
	})

	t.Run("concurrent reads see whole records", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		gt.NoError(t, repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{newUser("idp:1", "v0")})).Required()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 20 {
				u := newUser("idp:1", "v"+string(rune('a'+i)))
				u.Email = u.DisplayName + "@example.com"
				_ = repo.DirectoryUser().Upsert(ctx, []*model.DirectoryUser{u})
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				u, err := repo.DirectoryUser().Get(ctx, "idp:1")
				if err != nil {
					continue
				}
				gt.Value(t, u.Email).Equal(u.DisplayName + "@example.com")
			}
		}()
		wg.Wait()
	})
}

func newRoom(id, name string, members int) *model.ChatRoom {
	return &model.ChatRoom{
		ID:          model.ChatRoomID(id),
		Name:        name,
		MemberCount: members,
		Visibility:  types.VisibilityPublic,
		Active:      true,
		SyncedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

func runChatRoomRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Upsert and Get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		room := newRoom("C1", "general", 10)
		room.Bridged = true
		room.Topic = "announcements"
		gt.NoError(t, repo.ChatRoom().Upsert(ctx, []*model.ChatRoom{room})).Required()

		got, err := repo.ChatRoom().Get(ctx, "C1")
		gt.NoError(t, err).Required()
		gt.Value(t, got.Name).Equal("general")
		gt.Value(t, got.Topic).Equal("announcements")
		gt.Value(t, got.Visibility).Equal(types.VisibilityPublic)
		gt.Bool(t, got.Bridged).True()
		gt.Number(t, got.MemberCount).Equal(10)
	})

	t.Run("MarkStaleExcept and Count", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.ChatRoom().Upsert(ctx, []*model.ChatRoom{
			newRoom("C1", "general", 10),
			newRoom("C2", "random", 3),
		})).Required()

		n, err := repo.ChatRoom().MarkStaleExcept(ctx, []model.ChatRoomID{"C1"})
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(1)

		count, err := repo.ChatRoom().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, count).Equal(1)

		c2, err := repo.ChatRoom().Get(ctx, "C2")
		gt.NoError(t, err).Required()
		gt.Bool(t, c2.Active).False()
	})

	t.Run("List by member count", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.ChatRoom().Upsert(ctx, []*model.ChatRoom{
			newRoom("C1", "general", 10),
			newRoom("C2", "random", 3),
			newRoom("C3", "dev", 0),
		})).Required()

		rooms, err := repo.ChatRoom().List(ctx, model.RoomFilter{MinMembers: 3})
		gt.NoError(t, err).Required()
		gt.Array(t, rooms).Length(2)
		gt.Value(t, rooms[0].ID).Equal(model.ChatRoomID("C1"))
		gt.Value(t, rooms[1].ID).Equal(model.ChatRoomID("C2"))
	})

	t.Run("Get returns not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.ChatRoom().Get(context.Background(), "C404")
		gt.Bool(t, isNotFound(err)).True()
	})
}

func newMember(room, user string, state types.MembershipState) *model.Membership {
	return &model.Membership{
		RoomID:   model.ChatRoomID(room),
		UserID:   model.DirectoryUserID(user),
		State:    state,
		SyncedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func runMembershipRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("stale member of a fully synced room becomes left", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		// Cache holds {A, B, C}; the remote now reports {A, C}
		gt.NoError(t, repo.Membership().Upsert(ctx, []*model.Membership{
			newMember("R", "A", types.MembershipJoined),
			newMember("R", "B", types.MembershipJoined),
			newMember("R", "C", types.MembershipJoined),
		})).Required()

		n, err := repo.Membership().MarkStaleExcept(ctx, "R", []model.DirectoryUserID{"A", "C"})
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(1)

		b, err := repo.Membership().Get(ctx, model.MembershipKey{RoomID: "R", UserID: "B"})
		gt.NoError(t, err).Required()
		gt.Value(t, b.State).Equal(types.MembershipLeft)

		a, err := repo.Membership().Get(ctx, model.MembershipKey{RoomID: "R", UserID: "A"})
		gt.NoError(t, err).Required()
		gt.Value(t, a.State).Equal(types.MembershipJoined)
	})

	t.Run("reconciliation is scoped to one room", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.Membership().Upsert(ctx, []*model.Membership{
			newMember("R1", "A", types.MembershipJoined),
			newMember("R2", "A", types.MembershipInvited),
			newMember("R2", "B", types.MembershipBanned),
		})).Required()

		n, err := repo.Membership().MarkStaleExcept(ctx, "R1", nil)
		gt.NoError(t, err).Required()
		gt.Number(t, n).Equal(1)

		r2, err := repo.Membership().List(ctx, model.MembershipFilter{RoomID: "R2"})
		gt.NoError(t, err).Required()
		gt.Array(t, r2).Length(2)
		gt.Value(t, r2[0].State).Equal(types.MembershipInvited)
		gt.Value(t, r2[1].State).Equal(types.MembershipBanned)

		count, err := repo.Membership().Count(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, count).Equal(1)
	})

	t.Run("upsert is unique on room and user", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.Membership().Upsert(ctx, []*model.Membership{newMember("R", "A", types.MembershipInvited)})).Required()
		gt.NoError(t, repo.Membership().Upsert(ctx, []*model.Membership{newMember("R", "A", types.MembershipJoined)})).Required()

		list, err := repo.Membership().List(ctx, model.MembershipFilter{UserID: "A"})
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(1)
		gt.Value(t, list[0].State).Equal(types.MembershipJoined)
	})

	t.Run("List filters by state", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		gt.NoError(t, repo.Membership().Upsert(ctx, []*model.Membership{
			newMember("R", "A", types.MembershipJoined),
			newMember("R", "B", types.MembershipLeft),
		})).Required()

		list, err := repo.Membership().List(ctx, model.MembershipFilter{States: []types.MembershipState{types.MembershipLeft}})
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(1)
		gt.Value(t, list[0].UserID).Equal(model.DirectoryUserID("B"))
	})

	t.Run("Upsert rejects invalid state", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Membership().Upsert(context.Background(), []*model.Membership{newMember("R", "A", "lurking")})
		gt.Error(t, err).Is(model.ErrUpstreamRejected)
	})
}
