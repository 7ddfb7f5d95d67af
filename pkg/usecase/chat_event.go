package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"github.com/slack-go/slack/slackevents"
)

// eventActor is recorded as the actor of syncs started by platform events
const eventActor = "chat-platform"

// ChatEventUseCase turns chat platform callbacks into sync triggers. Events
// never write the cache themselves; they only schedule the matching sync.
type ChatEventUseCase struct {
	sync *SyncUseCase
}

func NewChatEventUseCase(sync *SyncUseCase) *ChatEventUseCase {
	return &ChatEventUseCase{sync: sync}
}

// syncTypeForEvent maps an inner event type to the sync that refreshes the
// affected records
func syncTypeForEvent(innerType string) (types.SyncType, bool) {
	switch innerType {
	case "member_joined_channel", "member_left_channel":
		return types.SyncTypeMemberships, true
	case "channel_created", "channel_deleted", "channel_archive", "channel_unarchive", "channel_rename":
		return types.SyncTypeRooms, true
	case "team_join", "user_change":
		return types.SyncTypeUsers, true
	default:
		return "", false
	}
}

// HandleEvent triggers the sync covering the event. A sync already in
// flight, or one triggered by an event within the event cooldown, absorbs
// the event.
func (uc *ChatEventUseCase) HandleEvent(ctx context.Context, event *slackevents.EventsAPIEvent) (*TriggerResult, error) {
	logger := logging.From(ctx)

	syncType, ok := syncTypeForEvent(event.InnerEvent.Type)
	if !ok {
		logger.Debug("ignored chat event", "type", event.Type, "innerType", event.InnerEvent.Type)
		return nil, nil
	}

	result, err := uc.sync.TriggerSync(ctx, syncType, types.TriggerEvent, eventActor)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to trigger sync from chat event",
			goerr.V("inner_type", event.InnerEvent.Type))
	}

	logger.Info("chat event handled",
		"inner_type", event.InnerEvent.Type,
		"sync_type", syncType,
		"status", result.Status,
	)
	return result, nil
}
