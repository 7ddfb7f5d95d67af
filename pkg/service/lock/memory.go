// Package lock implements interfaces.Locker for a single process and for
// deployments sharing a Redis instance.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
)

type entry struct {
	token   string
	expires time.Time
}

// Memory is an in-process Locker
type Memory struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

var _ interfaces.Locker = &Memory{}

func NewMemory() *Memory {
	return &Memory{
		locks: make(map[string]entry),
		now:   time.Now,
	}
}

func (m *Memory) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, held := m.locks[key]; held && now.Before(cur.expires) {
		return nil, false, nil
	}

	token := uuid.NewString()
	m.locks[key] = entry{token: token, expires: now.Add(ttl)}

	unlock := func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		// An expired lock may already belong to someone else
		if cur, ok := m.locks[key]; ok && cur.token == token {
			delete(m.locks, key)
		}
		return nil
	}
	return unlock, true, nil
}
