package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisConfig_OptionsApplyDefaults(t *testing.T) {
	opts := RedisConfig{Addr: "localhost:6379", ClientName: "lease"}.Options()
	if opts.PoolSize != 20 {
		t.Fatalf("expected default pool size 20, got %d", opts.PoolSize)
	}
	if opts.ReadTimeout != 2*time.Second {
		t.Fatalf("expected default read timeout, got %v", opts.ReadTimeout)
	}
	if opts.ClientName != "lease" {
		t.Fatalf("expected client name to carry over, got %q", opts.ClientName)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
