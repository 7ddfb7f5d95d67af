package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/service/lock"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Lock selects where the per-sync-type run lock lives. Redis is required
// when more than one replica serves the same cache.
type Lock struct {
	backend   string
	addr      string
	password  string
	db        int
	keyPrefix string
}

func (x *Lock) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "lock-backend",
			Usage:       "Sync lock backend (memory or redis)",
			Category:    "Lock",
			Value:       "memory",
			Destination: &x.backend,
			Sources:     cli.EnvVars("SWITCHBOARD_LOCK_BACKEND"),
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address (host:port)",
			Category:    "Lock",
			Destination: &x.addr,
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Category:    "Lock",
			Destination: &x.password,
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_PASSWORD"),
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Category:    "Lock",
			Destination: &x.db,
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_DB"),
		},
		&cli.StringFlag{
			Name:        "redis-key-prefix",
			Usage:       "Prefix of lock keys",
			Category:    "Lock",
			Value:       "switchboard:lock:",
			Destination: &x.keyPrefix,
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_KEY_PREFIX"),
		},
	}
}

func (x Lock) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", x.backend),
		slog.String("addr", x.addr),
		slog.Int("db", x.db),
		slog.String("key-prefix", x.keyPrefix),
	)
}

// Configure builds the lock. The returned closer releases the Redis
// connection and is never nil.
func (x *Lock) Configure(ctx context.Context) (interfaces.Locker, func(), error) {
	switch x.backend {
	case "", "memory":
		return lock.NewMemory(), func() {}, nil

	case "redis":
		if x.addr == "" {
			return nil, nil, goerr.Wrap(ErrMissingFlag, "redis-addr is required when using redis lock",
				goerr.V(FlagKey, "redis-addr"))
		}
		client := redis.NewClient(&redis.Options{
			Addr:     x.addr,
			Password: x.password,
			DB:       x.db,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", x.addr))
		}
		logging.Default().Info("Using Redis sync lock", "addr", x.addr, "db", x.db)

		closer := func() {
			if err := client.Close(); err != nil {
				logging.Default().Error("failed to close redis client", "error", err)
			}
		}
		return lock.NewRedis(client, lock.WithKeyPrefix(x.keyPrefix)), closer, nil

	default:
		return nil, nil, goerr.Wrap(ErrInvalidConfig, "invalid lock backend", goerr.V("backend", x.backend))
	}
}
