package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.CacheRebuildWorkers != 10 {
		t.Fatalf("expected 10 rebuild workers, got %d", cfg.CacheRebuildWorkers)
	}
	if cfg.CacheNullTTL != 2*time.Minute {
		t.Fatalf("expected null ttl 2m, got %v", cfg.CacheNullTTL)
	}
	if cfg.ShopLogicalWindow != 20*time.Second {
		t.Fatalf("expected logical window 20s, got %v", cfg.ShopLogicalWindow)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DBDriver)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ORDER_QUEUE_SIZE", "8")
	t.Setenv("CACHE_LOCK_TTL", "3s")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://u:p@localhost:5432/review")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OrderQueueSize != 8 || cfg.CacheLockTTL != 3*time.Second || cfg.DBDriver != "postgres" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"non numeric queue size", "ORDER_QUEUE_SIZE", "lots"},
		{"zero queue size", "ORDER_QUEUE_SIZE", "0"},
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"zero rebuild workers", "CACHE_REBUILD_WORKERS", "0"},
		{"negative lock ttl", "CACHE_LOCK_TTL", "-1s"},
		{"sub-second rate window", "BUY_RATE_WINDOW", "500ms"},
		{"bad log level", "LOG_LEVEL", "loud"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.val)
			}
		})
	}
}
