package interfaces

// Repository is the Cache Store handle injected into every component.
// Directory records (users, rooms, memberships) are written only by the sync
// orchestrator; dispatch outcomes live in DispatchRepository.
type Repository interface {
	DirectoryUser() DirectoryUserRepository
	ChatRoom() ChatRoomRepository
	Membership() MembershipRepository
	Note() NoteRepository
	SyncRun() SyncRunRepository
	Dispatch() DispatchRepository

	Close() error
}
