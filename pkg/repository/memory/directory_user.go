package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

type directoryUserRepository struct {
	mu    sync.RWMutex
	users map[model.DirectoryUserID]*model.DirectoryUser
}

func newDirectoryUserRepository() *directoryUserRepository {
	return &directoryUserRepository{
		users: make(map[model.DirectoryUserID]*model.DirectoryUser),
	}
}

// Upsert stores users, replacing existing records with the same ID
func (r *directoryUserRepository) Upsert(ctx context.Context, users []*model.DirectoryUser) error {
	for _, u := range users {
		if err := u.Validate(); err != nil {
			return goerr.Wrap(err, "invalid directory user")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range users {
		userCopy := *u
		r.users[u.ID] = &userCopy
	}
	return nil
}

// MarkStaleExcept deactivates active users not contained in seen
func (r *directoryUserRepository) MarkStaleExcept(ctx context.Context, seen []model.DirectoryUserID) (int, error) {
	keep := make(map[model.DirectoryUserID]struct{}, len(seen))
	for _, id := range seen {
		keep[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, u := range r.users {
		if _, ok := keep[id]; ok || !u.Active {
			continue
		}
		// Replace instead of mutating so copies handed out earlier stay intact
		userCopy := *u
		userCopy.Active = false
		r.users[id] = &userCopy
		n++
	}
	return n, nil
}

func (r *directoryUserRepository) Get(ctx context.Context, id model.DirectoryUserID) (*model.DirectoryUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "directory user not found", goerr.V("id", id))
	}
	userCopy := *u
	return &userCopy, nil
}

// List returns users matching filter ordered by ID
func (r *directoryUserRepository) List(ctx context.Context, filter model.UserFilter) ([]*model.DirectoryUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []*model.DirectoryUser
	for _, u := range r.users {
		if !filter.Match(u) {
			continue
		}
		userCopy := *u
		users = append(users, &userCopy)
	}

	slices.SortFunc(users, func(a, b *model.DirectoryUser) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if filter.Limit > 0 && len(users) > filter.Limit {
		users = users[:filter.Limit]
	}
	return users, nil
}

func (r *directoryUserRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, u := range r.users {
		if u.Active {
			n++
		}
	}
	return n, nil
}
