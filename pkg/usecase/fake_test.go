package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/repository/memory"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/secmon-lab/switchboard/pkg/utils/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		Multiplier:      2,
		DefaultCooldown: 5 * time.Millisecond,
	}
}

func testSyncPolicy() usecase.SyncPolicy {
	p := usecase.DefaultSyncPolicy()
	p.Retry = fastRetry()
	p.RunTimeout = 10 * time.Second
	return p
}

func testDispatchPolicy() usecase.DispatchPolicy {
	p := usecase.DefaultDispatchPolicy()
	p.RatePerSecond = 0
	p.Retry = fastRetry()
	p.TargetTimeout = 5 * time.Second
	return p
}

type testEnv struct {
	repo  *memory.Memory
	dir   *fakeDirectory
	chat  *fakeChat
	audit *recordingAudit
	uc    *usecase.UseCases
}

func newTestEnv(t *testing.T, opts ...usecase.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  memory.New(),
		dir:   &fakeDirectory{withTotal: true},
		chat:  newFakeChat(),
		audit: &recordingAudit{},
	}

	base := []usecase.Option{
		usecase.WithDirectoryProvider(env.dir),
		usecase.WithChatProvider(env.chat),
		usecase.WithAuditSink(env.audit),
		usecase.WithSyncPolicy(testSyncPolicy()),
		usecase.WithDispatchPolicy(testDispatchPolicy()),
	}
	env.uc = usecase.New(env.repo, append(base, opts...)...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.uc.Shutdown(ctx)
	})
	return env
}

func makeUsers(n int) []*model.DirectoryUser {
	users := make([]*model.DirectoryUser, n)
	for i := range users {
		users[i] = &model.DirectoryUser{
			ID:          model.DirectoryUserID(fmt.Sprintf("U%04d", i)),
			DisplayName: fmt.Sprintf("user%d", i),
			Active:      true,
		}
	}
	return users
}

// fakeDirectory serves users with page-number pagination
type fakeDirectory struct {
	mu            sync.Mutex
	users         []*model.DirectoryUser
	withTotal     bool
	hideNext      bool
	stuck         bool // every page returns the first page
	modifiedSince bool
	err           error
	block         chan struct{}
	requests      []model.PageRequest
}

var _ interfaces.DirectoryProvider = &fakeDirectory{}

func (f *fakeDirectory) setUsers(users []*model.DirectoryUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = users
}

func (f *fakeDirectory) ListUsers(ctx context.Context, req model.PageRequest) (*model.Page[*model.DirectoryUser], error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}

	page := max(req.Page, 1)
	size := req.PageSize
	if f.stuck {
		page = 1
	}
	start := min((page-1)*size, len(f.users))
	end := min(start+size, len(f.users))

	result := &model.Page[*model.DirectoryUser]{CurrentPage: page}
	for _, u := range f.users[start:end] {
		c := *u
		result.Items = append(result.Items, &c)
	}
	if f.withTotal {
		result.Total = len(f.users)
		result.HasTotal = true
	}
	if !f.hideNext && end < len(f.users) {
		result.NextPage = page + 1
	}
	return result, nil
}

func (f *fakeDirectory) CountUsers(ctx context.Context) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), f.withTotal, nil
}

func (f *fakeDirectory) SupportsModifiedSince() bool {
	return f.modifiedSince
}

func (f *fakeDirectory) lastRequest() model.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeChat is a chat platform whose send operations can be scripted per key
type fakeChat struct {
	mu        sync.Mutex
	rooms     []*model.ChatRoom
	members   map[model.ChatRoomID][]model.DirectoryUserID
	memberErr map[model.ChatRoomID]error

	failures    map[string][]error
	calls       map[string]int
	texts       map[string]string
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

var _ interfaces.ChatProvider = &fakeChat{}

func newFakeChat() *fakeChat {
	return &fakeChat{
		members:   make(map[model.ChatRoomID][]model.DirectoryUserID),
		memberErr: make(map[model.ChatRoomID]error),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
		texts:     make(map[string]string),
	}
}

func (f *fakeChat) addRoom(id model.ChatRoomID, members ...model.DirectoryUserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, &model.ChatRoom{
		ID:          id,
		Name:        "room-" + string(id),
		MemberCount: len(members),
		Visibility:  types.VisibilityPublic,
		Active:      true,
	})
	f.members[id] = members
}

func (f *fakeChat) setMembers(id model.ChatRoomID, members ...model.DirectoryUserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = members
}

// fail queues errors returned by successive calls for key
func (f *fakeChat) fail(key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], errs...)
}

func (f *fakeChat) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeChat) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeChat) ListRooms(ctx context.Context, req model.PageRequest) (*model.Page[*model.ChatRoom], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	page := &model.Page[*model.ChatRoom]{}
	for _, r := range f.rooms {
		c := *r
		page.Items = append(page.Items, &c)
	}
	return page, nil
}

func (f *fakeChat) ListRoomMembers(ctx context.Context, roomID model.ChatRoomID, req model.PageRequest) (*model.Page[*model.Membership], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memberErr[roomID]; err != nil {
		return nil, err
	}
	page := &model.Page[*model.Membership]{}
	for _, id := range f.members[roomID] {
		page.Items = append(page.Items, &model.Membership{
			RoomID: roomID,
			UserID: id,
			State:  types.MembershipJoined,
		})
	}
	return page, nil
}

func (f *fakeChat) InviteToRoom(ctx context.Context, roomID model.ChatRoomID, userID model.DirectoryUserID) error {
	return f.call(fmt.Sprintf("invite:%s:%s", roomID, userID), "")
}

func (f *fakeChat) SendDirectMessage(ctx context.Context, userID model.DirectoryUserID, text string) error {
	return f.call("dm:"+string(userID), text)
}

func (f *fakeChat) PostToRoom(ctx context.Context, roomID model.ChatRoomID, text string) error {
	return f.call("post:"+string(roomID), text)
}

func (f *fakeChat) call(key, text string) error {
	f.mu.Lock()
	f.calls[key]++
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	var err error
	if q := f.failures[key]; len(q) > 0 {
		err, f.failures[key] = q[0], q[1:]
	}
	if err == nil {
		f.texts[key] = text
	}
	delay := f.delay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return err
}

type recordingAudit struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (a *recordingAudit) Record(ctx context.Context, event model.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAudit) byType(eventType model.AuditEventType) []model.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.AuditEvent
	for _, e := range a.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
