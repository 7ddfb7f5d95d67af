package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
)

// CacheUseCase is the read-only view of the Cache Store. Reads never wait on
// a running sync.
type CacheUseCase struct {
	repo interfaces.Repository
}

func NewCacheUseCase(repo interfaces.Repository) *CacheUseCase {
	return &CacheUseCase{repo: repo}
}

// Query returns the cached records of q.EntityType matching its filter
func (uc *CacheUseCase) Query(ctx context.Context, q model.CacheQuery) (*model.CacheResult, error) {
	result := &model.CacheResult{EntityType: q.EntityType}

	switch q.EntityType {
	case types.EntityTypeUser:
		users, err := uc.repo.DirectoryUser().List(ctx, q.Users)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query directory users")
		}
		result.Users = users

	case types.EntityTypeRoom:
		rooms, err := uc.repo.ChatRoom().List(ctx, q.Rooms)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query chat rooms")
		}
		result.Rooms = rooms

	case types.EntityTypeMembership:
		members, err := uc.repo.Membership().List(ctx, q.Members)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query memberships")
		}
		result.Memberships = members

	default:
		return nil, goerr.Wrap(ErrInvalidEntityType, "unsupported entity type", goerr.V(EntityTypeKey, q.EntityType))
	}

	return result, nil
}

// CacheCounts is the number of active records per entity type
type CacheCounts struct {
	Users       int
	Rooms       int
	Memberships int
}

// Counts returns the active record counts
func (uc *CacheUseCase) Counts(ctx context.Context) (*CacheCounts, error) {
	var (
		c   CacheCounts
		err error
	)
	if c.Users, err = uc.repo.DirectoryUser().Count(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to count directory users")
	}
	if c.Rooms, err = uc.repo.ChatRoom().Count(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to count chat rooms")
	}
	if c.Memberships, err = uc.repo.Membership().Count(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to count memberships")
	}
	return &c, nil
}
