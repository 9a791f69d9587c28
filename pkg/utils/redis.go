package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the shared Redis used for job claims and the
// broadcast relay. Zero values take conservative defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	setDur := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setDur(&out.DialTimeout, 3*time.Second)
	setDur(&out.ReadTimeout, 2*time.Second)
	setDur(&out.WriteTimeout, 2*time.Second)
	setDur(&out.PingTimeout, 2*time.Second)
	if out.PoolSize <= 0 {
		// Claims and settles are short; the relay holds one extra connection.
		out.PoolSize = 10
	}
	return out
}

// OpenRedis connects and verifies the server answers PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var claimScript = redis.NewScript(`
-- KEYS[1] = claim key
-- ARGV[1] = owner token
-- ARGV[2] = ttl_ms (int)
--
-- Returns:
--  1 if claimed
--  0 if another claim is active or finished successfully
local current = redis.call('GET', KEYS[1])
if current and current ~= 'failed' then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

var settleScript = redis.NewScript(`
-- KEYS[1] = claim key
-- ARGV[1] = terminal state
-- ARGV[2] = ttl_ms (int)
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// ClaimKey atomically claims key for owner unless a live claim exists.
// A key previously settled as "failed" may be claimed again. The TTL
// releases claims left behind by a crashed process.
func ClaimKey(ctx context.Context, rdb redis.Scripter, key, owner string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" || owner == "" {
		return false, fmt.Errorf("key and owner are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	res, err := claimScript.Run(ctx, rdb, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// SettleKey records the terminal state of a claim.
func SettleKey(ctx context.Context, rdb redis.Scripter, key, state string, ttl time.Duration) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" || state == "" {
		return fmt.Errorf("key and state are required")
	}
	_, err := settleScript.Run(ctx, rdb, []string{key}, state, ttl.Milliseconds()).Result()
	return err
}
