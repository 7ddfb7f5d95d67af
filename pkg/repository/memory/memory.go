package memory

import (
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is the in-process Cache Store. Every repository guards its own map
// with a RWMutex and hands out deep copies, so readers never observe a record
// half-written by a concurrent sync.
type Memory struct {
	user       *directoryUserRepository
	room       *chatRoomRepository
	membership *membershipRepository
	note       *noteRepository
	syncRun    *syncRunRepository
	dispatch   *dispatchRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		user:       newDirectoryUserRepository(),
		room:       newChatRoomRepository(),
		membership: newMembershipRepository(),
		note:       newNoteRepository(),
		syncRun:    newSyncRunRepository(),
		dispatch:   newDispatchRepository(),
	}
}

func (m *Memory) DirectoryUser() interfaces.DirectoryUserRepository {
	return m.user
}

func (m *Memory) ChatRoom() interfaces.ChatRoomRepository {
	return m.room
}

func (m *Memory) Membership() interfaces.MembershipRepository {
	return m.membership
}

func (m *Memory) Note() interfaces.NoteRepository {
	return m.note
}

func (m *Memory) SyncRun() interfaces.SyncRunRepository {
	return m.syncRun
}

func (m *Memory) Dispatch() interfaces.DispatchRepository {
	return m.dispatch
}

func (m *Memory) Close() error {
	return nil
}
