package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
)

// Collection names without prefix
const (
	DirectoryUsersCollection  = "directory_users"
	ChatRoomsCollection       = "chat_rooms"
	MembershipsCollection     = "memberships"
	AdminNotesCollection      = "admin_notes"
	SyncRunsCollection        = "sync_runs"
	DispatchJobsCollection    = "dispatch_jobs"
	DispatchResultsCollection = "dispatch_results"

	// DispatchTargetsCollection is a subcollection of each dispatch job
	DispatchTargetsCollection = "targets"
)

type Firestore struct {
	client     *firestore.Client
	user       *directoryUserRepository
	room       *chatRoomRepository
	membership *membershipRepository
	note       *noteRepository
	syncRun    *syncRunRepository
	dispatch   *dispatchRepository
}

var _ interfaces.Repository = &Firestore{}

// collections resolves collection names with an optional prefix so that
// tests can share one database
type collections struct {
	client *firestore.Client
	prefix string
}

func (c *collections) get(name string) *firestore.CollectionRef {
	if c.prefix != "" {
		return c.client.Collection(c.prefix + "_" + name)
	}
	return c.client.Collection(name)
}

type Option func(*Firestore)

func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.user.prefix = prefix
		f.room.prefix = prefix
		f.membership.prefix = prefix
		f.note.prefix = prefix
		f.syncRun.prefix = prefix
		f.dispatch.prefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:     client,
		user:       &directoryUserRepository{collections{client: client}},
		room:       &chatRoomRepository{collections{client: client}},
		membership: &membershipRepository{collections{client: client}},
		note:       &noteRepository{collections{client: client}},
		syncRun:    &syncRunRepository{collections{client: client}},
		dispatch:   &dispatchRepository{collections{client: client}},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) DirectoryUser() interfaces.DirectoryUserRepository {
	return f.user
}

func (f *Firestore) ChatRoom() interfaces.ChatRoomRepository {
	return f.room
}

func (f *Firestore) Membership() interfaces.MembershipRepository {
	return f.membership
}

func (f *Firestore) Note() interfaces.NoteRepository {
	return f.note
}

func (f *Firestore) SyncRun() interfaces.SyncRunRepository {
	return f.syncRun
}

func (f *Firestore) Dispatch() interfaces.DispatchRepository {
	return f.dispatch
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
