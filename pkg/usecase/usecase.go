package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/service/lock"
)

type UseCases struct {
	repo           interfaces.Repository
	directory      interfaces.DirectoryProvider
	chat           interfaces.ChatProvider
	locker         interfaces.Locker
	audit          interfaces.AuditSink
	syncPolicy     SyncPolicy
	dispatchPolicy DispatchPolicy
	now            func() time.Time

	Cache    *CacheUseCase
	Sync     *SyncUseCase
	Dispatch *DispatchUseCase
	Note     *NoteUseCase
	Event    *ChatEventUseCase
}

type Option func(*UseCases)

// WithDirectoryProvider sets the identity provider used by user syncs
func WithDirectoryProvider(p interfaces.DirectoryProvider) Option {
	return func(uc *UseCases) {
		uc.directory = p
	}
}

// WithChatProvider sets the chat platform used by room syncs and dispatch
func WithChatProvider(p interfaces.ChatProvider) Option {
	return func(uc *UseCases) {
		uc.chat = p
	}
}

// WithLocker replaces the in-process single-flight lock
func WithLocker(l interfaces.Locker) Option {
	return func(uc *UseCases) {
		uc.locker = l
	}
}

func WithAuditSink(sink interfaces.AuditSink) Option {
	return func(uc *UseCases) {
		uc.audit = sink
	}
}

func WithSyncPolicy(p SyncPolicy) Option {
	return func(uc *UseCases) {
		uc.syncPolicy = p
	}
}

func WithDispatchPolicy(p DispatchPolicy) Option {
	return func(uc *UseCases) {
		uc.dispatchPolicy = p
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.now = now
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:           repo,
		syncPolicy:     DefaultSyncPolicy(),
		dispatchPolicy: DefaultDispatchPolicy(),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.locker == nil {
		uc.locker = lock.NewMemory()
	}
	if uc.audit == nil {
		uc.audit = nopAudit{}
	}

	uc.Cache = NewCacheUseCase(repo)
	uc.Note = NewNoteUseCase(repo, uc.now)
	uc.Sync = newSyncUseCase(uc)
	uc.Dispatch = newDispatchUseCase(uc)
	uc.Event = NewChatEventUseCase(uc.Sync)

	return uc
}

// Shutdown cancels running sync runs and dispatch jobs and waits for them to
// record their final state
func (uc *UseCases) Shutdown(ctx context.Context) error {
	return errors.Join(uc.Sync.Shutdown(ctx), uc.Dispatch.Shutdown(ctx))
}
