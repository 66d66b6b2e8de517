package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-realtime/internal/config"
)

// Redis is the shared-cache Store implementation backed by go-redis. With
// every cooperating instance pointed at the same server, reservations,
// presence records, rate windows, and the receipt queue become cluster-wide.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client. Callers normally use Connect instead.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Connect selects the store backend for this process. When cfg.Addr is set
// and the server answers a PING within the probe timeout, the Redis store is
// returned; otherwise the process degrades to in-memory state. The
// degradation is logged exactly once, here, and is invisible to callers.
func Connect(ctx context.Context, cfg config.RedisConfig) Store {
	if cfg.Addr == "" {
		log.Info().Msg("redis not configured, using in-memory realtime state")
		return NewMemory()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(probeCtx).Err(); err != nil {
		_ = client.Close()
		log.Warn().Err(err).Str("addr", cfg.Addr).
			Msg("redis unreachable, degrading to in-memory realtime state")
		return NewMemory()
	}

	log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return NewRedis(client)
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// SetNX implements Store. Redis SET NX EX is atomic server-side.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// windowReserveScript prunes stale members, counts the survivors, and adds
// a new member only when the count is below the cap. Running as a Lua script
// keeps count-and-record atomic even across cooperating instances.
//
// KEYS[1] window key
// ARGV[1] now (unix nano), ARGV[2] window (nano), ARGV[3] max, ARGV[4] member
var windowReserveScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return {count, 0}
end
redis.call('ZADD', KEYS[1], tonumber(ARGV[1]), ARGV[4])
redis.call('PEXPIRE', KEYS[1], math.ceil(tonumber(ARGV[2]) / 1000000) + 1000)
return {count, 1}
`)

// WindowReserve implements Store using a sorted set scored by unix-nano
// time. The member carries a UUID suffix so concurrent adds in the same
// nanosecond do not collapse into one entry. The key self-expires shortly
// after the window so quiet users leave no residue.
func (r *Redis) WindowReserve(ctx context.Context, key string, at time.Time, window time.Duration, max int) (int, bool, error) {
	member := strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()
	res, err := windowReserveScript.Run(ctx, r.client, []string{key},
		at.UnixNano(), window.Nanoseconds(), max, member).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.New("store: unexpected window script reply")
	}
	return int(res[0]), res[1] == 1, nil
}

// QueuePush implements Store.
func (r *Redis) QueuePush(ctx context.Context, queue, value string) error {
	return r.client.RPush(ctx, queue, value).Err()
}

// QueueDrain implements Store. LRANGE+DEL run in one transaction so two
// flush workers on different instances never both claim the same batch.
func (r *Redis) QueueDrain(ctx context.Context, queue string) ([]string, error) {
	var vals []string
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		var err error
		vals, err = tx.LRange(ctx, queue, 0, -1).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, queue)
			return nil
		})
		return err
	}, queue)
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// Ping implements Store.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Name implements Store.
func (r *Redis) Name() string { return "redis" }

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
