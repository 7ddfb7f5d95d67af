package config

import (
	"errors"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/types"
	"github.com/secmon-lab/switchboard/pkg/utils/retry"
)

// duration decodes TOML strings such as "15m"
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return goerr.Wrap(err, "invalid duration", goerr.V("value", string(b)))
	}
	*d = duration(v)
	return nil
}

// PolicyFile is the TOML layout of --policy-file. Omitted keys keep the
// flag value.
type PolicyFile struct {
	Schedule struct {
		Users       *duration `toml:"users"`
		Rooms       *duration `toml:"rooms"`
		Memberships *duration `toml:"memberships"`
		Full        *duration `toml:"full"`
	} `toml:"schedule"`

	Sync struct {
		ManualCooldown  *duration `toml:"manual_cooldown"`
		EventCooldown   *duration `toml:"event_cooldown"`
		StalenessWindow *duration `toml:"staleness_window"`
		CountEpsilon    *int      `toml:"count_epsilon"`
		MinRoomMembers  *int      `toml:"min_room_members"`
		RoomConcurrency *int      `toml:"room_concurrency"`
		RunTimeout      *duration `toml:"run_timeout"`
		PageSize        *int      `toml:"page_size"`
		MaxPages        *int      `toml:"max_pages"`
		RecoveryMargin  *int      `toml:"recovery_margin"`
		PageTimeout     *duration `toml:"page_timeout"`
	} `toml:"sync"`

	Retry struct {
		MaxAttempts     *int      `toml:"max_attempts"`
		BaseDelay       *duration `toml:"base_delay"`
		MaxDelay        *duration `toml:"max_delay"`
		Multiplier      *float64  `toml:"multiplier"`
		DefaultCooldown *duration `toml:"default_cooldown"`
	} `toml:"retry"`

	Dispatch struct {
		DefaultConcurrency *int      `toml:"default_concurrency"`
		MaxConcurrency     *int      `toml:"max_concurrency"`
		RatePerSecond      *float64  `toml:"rate_per_second"`
		Burst              *int      `toml:"burst"`
		TargetTimeout      *duration `toml:"target_timeout"`
	} `toml:"dispatch"`
}

// LoadPolicyFile reads and decodes a policy file. Unknown keys are rejected.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "policy file not found", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to open policy file", goerr.V(ConfigPathKey, path))
	}
	defer f.Close() //nolint:errcheck // read-only

	var pf PolicyFile
	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(&pf); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse policy file",
			goerr.V(ConfigPathKey, path), goerr.V("cause", err.Error()))
	}
	return &pf, nil
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (pf *PolicyFile) apply(set *PolicySet, intervals map[types.SyncType]time.Duration) {
	for st, src := range map[types.SyncType]*duration{
		types.SyncTypeUsers:       pf.Schedule.Users,
		types.SyncTypeRooms:       pf.Schedule.Rooms,
		types.SyncTypeMemberships: pf.Schedule.Memberships,
		types.SyncTypeFull:        pf.Schedule.Full,
	} {
		if src != nil {
			intervals[st] = time.Duration(*src)
		}
	}

	s := &set.Sync
	setDuration(&s.ManualCooldown, pf.Sync.ManualCooldown)
	setDuration(&s.EventCooldown, pf.Sync.EventCooldown)
	setDuration(&s.StalenessWindow, pf.Sync.StalenessWindow)
	setValue(&s.CountEpsilon, pf.Sync.CountEpsilon)
	setValue(&s.MinRoomMembers, pf.Sync.MinRoomMembers)
	setValue(&s.RoomConcurrency, pf.Sync.RoomConcurrency)
	setDuration(&s.RunTimeout, pf.Sync.RunTimeout)
	setValue(&s.PageSize, pf.Sync.PageSize)
	setValue(&s.MaxPages, pf.Sync.MaxPages)
	setValue(&s.RecoveryMargin, pf.Sync.RecoveryMargin)
	setDuration(&s.PageTimeout, pf.Sync.PageTimeout)

	// one retry section drives both the fetcher and dispatch
	for _, r := range []*retry.Policy{&set.Sync.Retry, &set.Dispatch.Retry} {
		setValue(&r.MaxAttempts, pf.Retry.MaxAttempts)
		setDuration(&r.BaseDelay, pf.Retry.BaseDelay)
		setDuration(&r.MaxDelay, pf.Retry.MaxDelay)
		setValue(&r.Multiplier, pf.Retry.Multiplier)
		setDuration(&r.DefaultCooldown, pf.Retry.DefaultCooldown)
	}

	d := &set.Dispatch
	setValue(&d.DefaultConcurrency, pf.Dispatch.DefaultConcurrency)
	setValue(&d.MaxConcurrency, pf.Dispatch.MaxConcurrency)
	setValue(&d.RatePerSecond, pf.Dispatch.RatePerSecond)
	setValue(&d.Burst, pf.Dispatch.Burst)
	setDuration(&d.TargetTimeout, pf.Dispatch.TargetTimeout)
}
