package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/service/worker"
	"github.com/secmon-lab/switchboard/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// Policy holds sync and dispatch tuning. Values in the policy file override
// the flag values.
type Policy struct {
	file string

	usersInterval       time.Duration
	roomsInterval       time.Duration
	membershipsInterval time.Duration
	fullInterval        time.Duration

	manualCooldown  time.Duration
	eventCooldown   time.Duration
	stalenessWindow time.Duration
	countEpsilon    int
	minRoomMembers  int
	roomConcurrency int
	runTimeout      time.Duration
	pageSize        int
	maxPages        int

	dispatchConcurrency    int
	dispatchMaxConcurrency int
	dispatchRate           float64
	dispatchBurst          int
	dispatchTargetTimeout  time.Duration
}

// PolicySet is the resolved configuration handed to the use cases and the
// scheduler
type PolicySet struct {
	Sync      usecase.SyncPolicy
	Dispatch  usecase.DispatchPolicy
	Schedules []worker.Schedule
}

func (x *Policy) Flags() []cli.Flag {
	syncDefaults := usecase.DefaultSyncPolicy()
	dispatchDefaults := usecase.DefaultDispatchPolicy()

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-file",
			Usage:       "TOML file with sync and dispatch policy",
			Category:    "Policy",
			Destination: &x.file,
			Sources:     cli.EnvVars("SWITCHBOARD_POLICY_FILE"),
		},
		&cli.DurationFlag{
			Name:        "sync-users-interval",
			Usage:       "Interval of scheduled user syncs (0 disables)",
			Category:    "Sync",
			Value:       15 * time.Minute,
			Destination: &x.usersInterval,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_USERS_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:        "sync-rooms-interval",
			Usage:       "Interval of scheduled room syncs (0 disables)",
			Category:    "Sync",
			Value:       time.Hour,
			Destination: &x.roomsInterval,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_ROOMS_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:        "sync-memberships-interval",
			Usage:       "Interval of scheduled membership syncs (0 disables)",
			Category:    "Sync",
			Value:       time.Hour,
			Destination: &x.membershipsInterval,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_MEMBERSHIPS_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:        "sync-full-interval",
			Usage:       "Interval of scheduled full syncs (0 disables)",
			Category:    "Sync",
			Value:       24 * time.Hour,
			Destination: &x.fullInterval,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_FULL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:        "sync-manual-cooldown",
			Usage:       "Minimum gap between two manual triggers of the same sync type",
			Category:    "Sync",
			Value:       syncDefaults.ManualCooldown,
			Destination: &x.manualCooldown,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_MANUAL_COOLDOWN"),
		},
		&cli.DurationFlag{
			Name:        "sync-event-cooldown",
			Usage:       "Minimum gap between two chat event triggers of the same sync type",
			Category:    "Sync",
			Value:       syncDefaults.EventCooldown,
			Destination: &x.eventCooldown,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_EVENT_COOLDOWN"),
		},
		&cli.DurationFlag{
			Name:        "sync-staleness-window",
			Usage:       "Age of the last full user sync after which an incremental sync is upgraded to full",
			Category:    "Sync",
			Value:       syncDefaults.StalenessWindow,
			Destination: &x.stalenessWindow,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_STALENESS_WINDOW"),
		},
		&cli.IntFlag{
			Name:        "sync-count-epsilon",
			Usage:       "Tolerated difference between provider and cached user counts",
			Category:    "Sync",
			Value:       syncDefaults.CountEpsilon,
			Destination: &x.countEpsilon,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_COUNT_EPSILON"),
		},
		&cli.IntFlag{
			Name:        "sync-min-room-members",
			Usage:       "Rooms with fewer members are skipped by membership syncs",
			Category:    "Sync",
			Value:       syncDefaults.MinRoomMembers,
			Destination: &x.minRoomMembers,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_MIN_ROOM_MEMBERS"),
		},
		&cli.IntFlag{
			Name:        "sync-room-concurrency",
			Usage:       "Rooms fetched in parallel by membership syncs",
			Category:    "Sync",
			Value:       syncDefaults.RoomConcurrency,
			Destination: &x.roomConcurrency,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_ROOM_CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:        "sync-run-timeout",
			Usage:       "Time limit of a single sync run",
			Category:    "Sync",
			Value:       syncDefaults.RunTimeout,
			Destination: &x.runTimeout,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_RUN_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:        "sync-page-size",
			Usage:       "Records requested per page",
			Category:    "Sync",
			Value:       syncDefaults.PageSize,
			Destination: &x.pageSize,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_PAGE_SIZE"),
		},
		&cli.IntFlag{
			Name:        "sync-max-pages",
			Usage:       "Hard cap on pages per listing",
			Category:    "Sync",
			Value:       syncDefaults.MaxPages,
			Destination: &x.maxPages,
			Sources:     cli.EnvVars("SWITCHBOARD_SYNC_MAX_PAGES"),
		},
		&cli.IntFlag{
			Name:        "dispatch-concurrency",
			Usage:       "Default worker count of a dispatch job",
			Category:    "Dispatch",
			Value:       dispatchDefaults.DefaultConcurrency,
			Destination: &x.dispatchConcurrency,
			Sources:     cli.EnvVars("SWITCHBOARD_DISPATCH_CONCURRENCY"),
		},
		&cli.IntFlag{
			Name:        "dispatch-max-concurrency",
			Usage:       "Upper bound of the per-job concurrency limit",
			Category:    "Dispatch",
			Value:       dispatchDefaults.MaxConcurrency,
			Destination: &x.dispatchMaxConcurrency,
			Sources:     cli.EnvVars("SWITCHBOARD_DISPATCH_MAX_CONCURRENCY"),
		},
		&cli.FloatFlag{
			Name:        "dispatch-rate",
			Usage:       "Calls per second across a job's workers (0 disables pacing)",
			Category:    "Dispatch",
			Value:       dispatchDefaults.RatePerSecond,
			Destination: &x.dispatchRate,
			Sources:     cli.EnvVars("SWITCHBOARD_DISPATCH_RATE"),
		},
		&cli.IntFlag{
			Name:        "dispatch-burst",
			Usage:       "Burst allowance of the dispatch pacing",
			Category:    "Dispatch",
			Value:       dispatchDefaults.Burst,
			Destination: &x.dispatchBurst,
			Sources:     cli.EnvVars("SWITCHBOARD_DISPATCH_BURST"),
		},
		&cli.DurationFlag{
			Name:        "dispatch-target-timeout",
			Usage:       "Time limit of one platform call",
			Category:    "Dispatch",
			Value:       dispatchDefaults.TargetTimeout,
			Destination: &x.dispatchTargetTimeout,
			Sources:     cli.EnvVars("SWITCHBOARD_DISPATCH_TARGET_TIMEOUT"),
		},
	}
}

func (x Policy) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("file", x.file),
		slog.Duration("users-interval", x.usersInterval),
		slog.Duration("rooms-interval", x.roomsInterval),
		slog.Duration("memberships-interval", x.membershipsInterval),
		slog.Duration("full-interval", x.fullInterval),
		slog.Int("dispatch-concurrency", x.dispatchConcurrency),
		slog.Float64("dispatch-rate", x.dispatchRate),
	)
}

// Configure resolves flags and the optional policy file
func (x *Policy) Configure() (*PolicySet, error) {
	set := &PolicySet{
		Sync:     usecase.DefaultSyncPolicy(),
		Dispatch: usecase.DefaultDispatchPolicy(),
	}

	set.Sync.ManualCooldown = x.manualCooldown
	set.Sync.EventCooldown = x.eventCooldown
	set.Sync.StalenessWindow = x.stalenessWindow
	set.Sync.CountEpsilon = x.countEpsilon
	set.Sync.MinRoomMembers = x.minRoomMembers
	set.Sync.RoomConcurrency = x.roomConcurrency
	set.Sync.RunTimeout = x.runTimeout
	set.Sync.PageSize = x.pageSize
	set.Sync.MaxPages = x.maxPages

	set.Dispatch.DefaultConcurrency = x.dispatchConcurrency
	set.Dispatch.MaxConcurrency = x.dispatchMaxConcurrency
	set.Dispatch.RatePerSecond = x.dispatchRate
	set.Dispatch.Burst = x.dispatchBurst
	set.Dispatch.TargetTimeout = x.dispatchTargetTimeout

	intervals := map[types.SyncType]time.Duration{
		types.SyncTypeUsers:       x.usersInterval,
		types.SyncTypeRooms:       x.roomsInterval,
		types.SyncTypeMemberships: x.membershipsInterval,
		types.SyncTypeFull:        x.fullInterval,
	}

	if x.file != "" {
		file, err := LoadPolicyFile(x.file)
		if err != nil {
			return nil, err
		}
		file.apply(set, intervals)
	}

	for _, st := range types.AllSyncTypes() {
		set.Schedules = append(set.Schedules, worker.Schedule{Type: st, Interval: intervals[st]})
	}

	if err := validatePolicySet(set); err != nil {
		return nil, err
	}
	return set, nil
}

func validatePolicySet(set *PolicySet) error {
	switch {
	case set.Sync.PageSize <= 0:
		return goerr.Wrap(ErrInvalidConfig, "sync page size must be positive", goerr.V("page_size", set.Sync.PageSize))
	case set.Sync.MaxPages <= 0:
		return goerr.Wrap(ErrInvalidConfig, "sync max pages must be positive", goerr.V("max_pages", set.Sync.MaxPages))
	case set.Sync.RoomConcurrency <= 0:
		return goerr.Wrap(ErrInvalidConfig, "room concurrency must be positive", goerr.V("room_concurrency", set.Sync.RoomConcurrency))
	case set.Sync.CountEpsilon < 0:
		return goerr.Wrap(ErrInvalidConfig, "count epsilon must not be negative", goerr.V("count_epsilon", set.Sync.CountEpsilon))
	case set.Sync.RunTimeout <= 0:
		return goerr.Wrap(ErrInvalidConfig, "sync run timeout must be positive", goerr.V("run_timeout", set.Sync.RunTimeout))
	case set.Sync.Retry.MaxAttempts <= 0 || set.Dispatch.Retry.MaxAttempts <= 0:
		return goerr.Wrap(ErrInvalidConfig, "retry max attempts must be positive")
	case set.Dispatch.DefaultConcurrency <= 0 || set.Dispatch.MaxConcurrency < set.Dispatch.DefaultConcurrency:
		return goerr.Wrap(ErrInvalidConfig, "dispatch concurrency must satisfy 0 < default <= max",
			goerr.V("default", set.Dispatch.DefaultConcurrency), goerr.V("max", set.Dispatch.MaxConcurrency))
	case set.Dispatch.RatePerSecond < 0:
		return goerr.Wrap(ErrInvalidConfig, "dispatch rate must not be negative", goerr.V("rate", set.Dispatch.RatePerSecond))
	case set.Dispatch.RatePerSecond > 0 && set.Dispatch.Burst <= 0:
		return goerr.Wrap(ErrInvalidConfig, "dispatch burst must be positive when pacing is enabled", goerr.V("burst", set.Dispatch.Burst))
	}
	return nil
}
