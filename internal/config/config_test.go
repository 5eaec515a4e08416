package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080, InstanceID: "node-a"},
		Watch: WatchConfig{Dir: "/var/spool/recordings"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Watch.ActiveThreshold != 30*time.Second {
		t.Fatalf("expected 30s active threshold, got %v", c.Watch.ActiveThreshold)
	}
	if c.Watch.CleanupGrace != 5*time.Minute {
		t.Fatalf("expected 5m cleanup grace, got %v", c.Watch.CleanupGrace)
	}
	if c.Audio.SampleRate != 8000 || c.Audio.ChunkBytes != 3200 {
		t.Fatalf("unexpected audio defaults: %+v", c.Audio)
	}
	if c.Transcripts.LeaseKey == "" || c.Transcripts.Channel == "" {
		t.Fatalf("expected transcript defaults, got %+v", c.Transcripts)
	}
}

func TestValidate_ClampsPollInterval(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"too fast", 10 * time.Millisecond, 100 * time.Millisecond},
		{"too slow", time.Second, 250 * time.Millisecond},
		{"in range", 200 * time.Millisecond, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Audio.PollInterval = tt.in
			if err := c.Validate(); err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if c.Audio.PollInterval != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, c.Audio.PollInterval)
			}
		})
	}
}

func TestValidate_RenewMustBeShorterThanTTL(t *testing.T) {
	c := validConfig()
	c.Transcripts.LeaseTTL = 5 * time.Second
	c.Transcripts.LeaseRenewInterval = 5 * time.Second
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "LEASE_RENEW_INTERVAL") {
		t.Fatalf("expected renew interval error, got %v", err)
	}
}

func TestValidate_OddChunkSizeRejected(t *testing.T) {
	c := validConfig()
	c.Audio.ChunkBytes = 3201
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for odd chunk size")
	}
}

func TestValidate_GeneratesInstanceID(t *testing.T) {
	c := validConfig()
	c.App.InstanceID = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.InstanceID == "" {
		t.Fatalf("expected generated instance id")
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":    "local",
		"APP_PORT":   "8080",
		"WATCH_DIR":  "/var/spool/recordings",
		"DB_HOST":    "localhost",
		"DB_PORT":    "5432",
		"DB_USER":    "postgres",
		"DB_NAME":    "calls",
		"REDIS_HOST": "localhost",
		"REDIS_PORT": "6379",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad_RejectsDurationsWithoutUnit(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACTIVE_THRESHOLD", "45")
	t.Setenv("LEASE_TTL", "10")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse error for unit-less durations")
	}
	for _, key := range []string{"ACTIVE_THRESHOLD", "LEASE_TTL"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error to mention %s, got %v", key, err)
		}
	}
}

func TestLoad_ParsesDurations(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACTIVE_THRESHOLD", "45s")
	t.Setenv("LEASE_TTL", "20s")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Watch.ActiveThreshold != 45*time.Second || c.Transcripts.LeaseTTL != 20*time.Second {
		t.Fatalf("unexpected durations: threshold=%v ttl=%v", c.Watch.ActiveThreshold, c.Transcripts.LeaseTTL)
	}
}
