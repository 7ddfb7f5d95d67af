package usecase

import (
	"time"

	"github.com/secmon-lab/switchboard/pkg/utils/retry"
)

// SyncPolicy tunes the sync orchestrator
type SyncPolicy struct {
	// ManualCooldown is the minimum gap between accepted manual triggers of
	// one sync type
	ManualCooldown time.Duration
	// EventCooldown is the minimum gap between accepted event triggers of
	// one sync type. Platform events arrive in bursts and each one would
	// otherwise start a run covering every room.
	EventCooldown time.Duration
	// StalenessWindow forces a full sync when the last success is older
	StalenessWindow time.Duration
	// CountEpsilon is the tolerated difference between the provider count
	// and the cached count before a full sync is forced
	CountEpsilon int
	// MinRoomMembers skips membership sync of smaller rooms
	MinRoomMembers int
	// RoomConcurrency bounds the membership fan-out
	RoomConcurrency int
	// RunTimeout is the wall-clock ceiling of one run
	RunTimeout time.Duration

	PageSize       int
	MaxPages       int
	RecoveryMargin int
	PageTimeout    time.Duration
	Retry          retry.Policy
}

func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		ManualCooldown:  30 * time.Second,
		EventCooldown:   time.Minute,
		StalenessWindow: 24 * time.Hour,
		CountEpsilon:    0,
		MinRoomMembers:  2,
		RoomConcurrency: 4,
		RunTimeout:      30 * time.Minute,
		PageSize:        500,
		MaxPages:        10000,
		RecoveryMargin:  2,
		PageTimeout:     30 * time.Second,
		Retry:           retry.DefaultPolicy(),
	}
}

// lockTTL outlives the run so that a crashed owner still frees the lock
func (p SyncPolicy) lockTTL() time.Duration {
	return p.RunTimeout + time.Minute
}

// DispatchPolicy tunes the dispatch engine
type DispatchPolicy struct {
	DefaultConcurrency int
	MaxConcurrency     int
	// RatePerSecond paces requests of one job; zero disables pacing
	RatePerSecond float64
	Burst         int
	TargetTimeout time.Duration
	Retry         retry.Policy
}

func DefaultDispatchPolicy() DispatchPolicy {
	return DispatchPolicy{
		DefaultConcurrency: 5,
		MaxConcurrency:     50,
		RatePerSecond:      1,
		Burst:              1,
		TargetTimeout:      15 * time.Second,
		Retry:              retry.DefaultPolicy(),
	}
}

// concurrency clamps a requested limit into the policy range
func (p DispatchPolicy) concurrency(requested int) int {
	if requested <= 0 {
		requested = p.DefaultConcurrency
	}
	if requested <= 0 {
		requested = 1
	}
	if p.MaxConcurrency > 0 && requested > p.MaxConcurrency {
		requested = p.MaxConcurrency
	}
	return requested
}
