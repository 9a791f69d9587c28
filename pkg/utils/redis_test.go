package utils

import (
	"context"
	"testing"
	"time"
)

func TestClaimScriptsCompile(t *testing.T) {
	if claimScript == nil || settleScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestClaimKeyRejectsInvalidArgs(t *testing.T) {
	ctx := context.Background()
	if _, err := ClaimKey(ctx, nil, "k", "o", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := SettleKey(ctx, nil, "k", "failed", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379", ReadTimeout: time.Second}.withDefaults()
	if c.ReadTimeout != time.Second {
		t.Fatalf("explicit value overwritten: %v", c.ReadTimeout)
	}
	if c.DialTimeout != 3*time.Second || c.PoolSize != 10 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
