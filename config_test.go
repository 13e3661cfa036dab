package modsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigNormalizedClampsTimeout(t *testing.T) {
	cases := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{name: "below floor", seconds: 1, want: 3 * time.Second},
		{name: "at floor", seconds: 3, want: 3 * time.Second},
		{name: "in range", seconds: 12, want: 12 * time.Second},
		{name: "above ceiling", seconds: 99, want: 30 * time.Second},
		{name: "unset", seconds: 0, want: 10 * time.Second},
		{name: "negative", seconds: -5, want: 10 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Verification.HandshakeTimeoutSeconds = tc.seconds
			if got := cfg.Normalized().HandshakeTimeout(); got != tc.want {
				t.Fatalf("timeout = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestConfigNormalizedLockDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Locks.SuppressionWindowSeconds = -1
	cfg.Locks.RetryDelayMillis = 0
	cfg.ListenAddr = ""

	cfg = cfg.Normalized()

	if got := cfg.SuppressionWindow(); got != 0 {
		t.Fatalf("suppression window = %s, want clamp to 0", got)
	}
	if got := cfg.LockRetryDelay(); got != 250*time.Millisecond {
		t.Fatalf("retry delay = %s, want the default restored", got)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %q, want the default restored", cfg.ListenAddr)
	}
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HandshakeTimeout() != 10*time.Second {
		t.Fatalf("timeout = %s, want the default", cfg.HandshakeTimeout())
	}
	if cfg.Identity.ModName != "craft-and-carry" {
		t.Fatalf("mod name = %q, want the default identity", cfg.Identity.ModName)
	}
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modsync.toml")
	contents := `
listen_addr = ":9090"

[identity]
display_name = "Workshop Host"

[verification]
handshake_timeout_seconds = 20

[logging]
sinks = ["console", "json"]
json_file_path = "events.jsonl"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen addr = %q, want the file value", cfg.ListenAddr)
	}
	if cfg.Identity.DisplayName != "Workshop Host" {
		t.Fatalf("display name = %q, want the file value", cfg.Identity.DisplayName)
	}
	if cfg.HandshakeTimeout() != 20*time.Second {
		t.Fatalf("timeout = %s, want the file value", cfg.HandshakeTimeout())
	}
	// Keys absent from the file keep their defaults.
	if cfg.Identity.ModName != "craft-and-carry" {
		t.Fatalf("mod name = %q, want the default preserved", cfg.Identity.ModName)
	}
	if cfg.LockRetryDelay() != 250*time.Millisecond {
		t.Fatalf("retry delay = %s, want the default preserved", cfg.LockRetryDelay())
	}
	if len(cfg.Logging.Sinks) != 2 || cfg.Logging.JSONFilePath != "events.jsonl" {
		t.Fatalf("logging = %+v, want the file sinks", cfg.Logging)
	}
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected a missing file to be reported")
	}
}
