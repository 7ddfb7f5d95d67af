package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/slack-go/slack/slackevents"
)

func innerEvent(innerType string) *slackevents.EventsAPIEvent {
	return &slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Type: innerType},
	}
}

func TestChatEventUseCase_HandleEvent(t *testing.T) {
	testCases := []struct {
		innerType string
		syncType  types.SyncType
	}{
		{"member_joined_channel", types.SyncTypeMemberships},
		{"member_left_channel", types.SyncTypeMemberships},
		{"channel_created", types.SyncTypeRooms},
		{"channel_archive", types.SyncTypeRooms},
		{"team_join", types.SyncTypeUsers},
		{"user_change", types.SyncTypeUsers},
	}

	for _, tc := range testCases {
		t.Run(tc.innerType, func(t *testing.T) {
			env := newTestEnv(t)
			env.dir.setUsers(makeUsers(2))
			env.chat.addRoom("R1", "U0000", "U0001")
			ctx := context.Background()

			res, err := env.uc.Event.HandleEvent(ctx, innerEvent(tc.innerType))
			gt.NoError(t, err).Required()
			gt.Value(t, res).NotNil().Required()
			gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
			gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()

			runs, err := env.uc.Sync.ListRuns(ctx, tc.syncType, 10)
			gt.NoError(t, err).Required()
			gt.Array(t, runs).Length(1).Required()
			gt.Value(t, runs[0].Trigger).Equal(types.TriggerEvent)
		})
	}

	t.Run("unrelated events are ignored", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		res, err := env.uc.Event.HandleEvent(ctx, innerEvent("message"))
		gt.NoError(t, err)
		gt.Value(t, res).Nil()

		for _, st := range types.AllSyncTypes() {
			runs, err := env.uc.Sync.ListRuns(ctx, st, 10)
			gt.NoError(t, err).Required()
			gt.Array(t, runs).Length(0)
		}
	})

	t.Run("events bypass the manual cooldown", func(t *testing.T) {
		env := newTestEnv(t)
		env.chat.addRoom("R1", "U0000", "U0001")
		ctx := context.Background()

		_, err := env.uc.Sync.RunSync(ctx, types.SyncTypeRooms, types.TriggerManual, "alice")
		gt.NoError(t, err).Required()

		res, err := env.uc.Event.HandleEvent(ctx, innerEvent("channel_rename"))
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
		gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()
	})
}

func TestChatEventUseCase_EventBurst(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	env := newTestEnv(t, usecase.WithClock(clock))
	env.dir.setUsers(makeUsers(2))
	env.chat.addRoom("R1", "U0000", "U0001")
	env.chat.addRoom("R2", "U0000", "U0001")
	ctx := context.Background()

	res, err := env.uc.Event.HandleEvent(ctx, innerEvent("member_joined_channel"))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
	gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()

	// the rest of the burst is absorbed by the first run
	for _, innerType := range []string{"member_joined_channel", "member_left_channel", "member_joined_channel"} {
		res, err := env.uc.Event.HandleEvent(ctx, innerEvent(innerType))
		gt.NoError(t, err).Required()
		gt.Value(t, res.Status).Equal(usecase.TriggerCoolingDown)
		gt.Bool(t, res.RetryAfter > 0).True()
	}

	runs, err := env.uc.Sync.ListRuns(ctx, types.SyncTypeMemberships, 10)
	gt.NoError(t, err).Required()
	gt.Array(t, runs).Length(1)

	// a room event has its own window
	res, err = env.uc.Event.HandleEvent(ctx, innerEvent("channel_created"))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
	gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()

	now = now.Add(usecase.DefaultSyncPolicy().EventCooldown)
	res, err = env.uc.Event.HandleEvent(ctx, innerEvent("member_left_channel"))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Status).Equal(usecase.TriggerAccepted)
	gt.NoError(t, env.uc.Sync.Wait(ctx)).Required()

	runs, err = env.uc.Sync.ListRuns(ctx, types.SyncTypeMemberships, 10)
	gt.NoError(t, err).Required()
	gt.Array(t, runs).Length(2)
}
