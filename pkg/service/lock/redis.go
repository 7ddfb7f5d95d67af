package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
)

const defaultKeyPrefix = "switchboard:lock:"

// releaseScript deletes the key only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance connected to the same Redis
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ interfaces.Locker = &Redis{}

type RedisOption func(*Redis)

// WithKeyPrefix namespaces lock keys
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to acquire redis lock", goerr.V("key", redisKey))
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
			return goerr.Wrap(err, "failed to release redis lock", goerr.V("key", redisKey))
		}
		return nil
	}
	return unlock, true, nil
}
