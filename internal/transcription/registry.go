package transcription

import (
	"context"
	"sync"
	"time"

	"call-lead-pipeline/pkg/utils"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Registry enforces at most one active job per recording id. Claim fails
// while a job is in flight or after it completed; a job that Finished as
// JobFailed may be claimed again.
type Registry interface {
	Claim(ctx context.Context, recordingID string) (bool, error)
	Finish(ctx context.Context, recordingID string, state JobState) error
}

const defaultClaimTTL = 24 * time.Hour

// CacheRegistry is an in-process Registry with TTL expiry.
type CacheRegistry struct {
	mu sync.Mutex
	c  *cache.Cache
}

func NewCacheRegistry(ttl time.Duration) *CacheRegistry {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &CacheRegistry{c: cache.New(ttl, ttl/4)}
}

func (r *CacheRegistry) Claim(ctx context.Context, recordingID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.c.Get(recordingID); ok && v.(JobState) == JobFailed {
		r.c.Delete(recordingID)
	}
	// Add refuses existing keys, which is the claim.
	if err := r.c.Add(recordingID, JobUploading, cache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *CacheRegistry) Finish(ctx context.Context, recordingID string, state JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c.Set(recordingID, state, cache.DefaultExpiration)
	return nil
}

// State returns the last recorded state for a recording.
func (r *CacheRegistry) State(recordingID string) (JobState, bool) {
	v, ok := r.c.Get(recordingID)
	if !ok {
		return "", false
	}
	return v.(JobState), true
}

// RedisRegistry shares claims across processes.
type RedisRegistry struct {
	rdb    redis.Scripter
	prefix string
	ttl    time.Duration
	owner  string
}

func NewRedisRegistry(rdb redis.Scripter, owner string, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &RedisRegistry{rdb: rdb, prefix: "transcription:job:", ttl: ttl, owner: owner}
}

func (r *RedisRegistry) Claim(ctx context.Context, recordingID string) (bool, error) {
	return utils.ClaimKey(ctx, r.rdb, r.prefix+recordingID, r.owner, r.ttl)
}

func (r *RedisRegistry) Finish(ctx context.Context, recordingID string, state JobState) error {
	return utils.SettleKey(ctx, r.rdb, r.prefix+recordingID, string(state), r.ttl)
}
