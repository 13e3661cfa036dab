package modsync

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the operator-facing configuration, loaded from TOML with defaults
// overlaid for any key the file leaves out.
type Config struct {
	Identity     IdentityConfig     `toml:"identity"`
	Verification VerificationConfig `toml:"verification"`
	Locks        LocksConfig        `toml:"locks"`
	Logging      LogFileConfig      `toml:"logging"`
	ListenAddr   string             `toml:"listen_addr"`
}

// IdentityConfig names this installation on the wire.
type IdentityConfig struct {
	DisplayName string `toml:"display_name"`
	ModName     string `toml:"mod_name"`
	ModVersion  string `toml:"mod_version"`
}

// VerificationConfig tunes the handshake state machines.
type VerificationConfig struct {
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
}

// LocksConfig tunes the lock reconciliation channel.
type LocksConfig struct {
	SuppressionWindowSeconds int `toml:"suppression_window_seconds"`
	RetryDelayMillis         int `toml:"retry_delay_millis"`
}

// LogFileConfig selects logging sinks.
type LogFileConfig struct {
	Sinks        []string `toml:"sinks"`
	JSONFilePath string   `toml:"json_file_path"`
	MinSeverity  string   `toml:"min_severity"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Identity: IdentityConfig{
			DisplayName: "host",
			ModName:     "craft-and-carry",
			ModVersion:  "dev",
		},
		Verification: VerificationConfig{
			HandshakeTimeoutSeconds: int(defaultHandshakeTimeout / time.Second),
		},
		Locks: LocksConfig{
			SuppressionWindowSeconds: int(defaultSuppressionWindow / time.Second),
			RetryDelayMillis:         int(defaultLockRetryDelay / time.Millisecond),
		},
		Logging: LogFileConfig{
			Sinks: []string{"console"},
		},
		ListenAddr: ":8080",
	}
}

// LoadConfig reads a TOML file over the defaults. Keys absent from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg.Normalized(), nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg.Normalized(), nil
}

// Normalized clamps every tunable into its supported range.
func (c Config) Normalized() Config {
	if c.Verification.HandshakeTimeoutSeconds <= 0 {
		c.Verification.HandshakeTimeoutSeconds = int(defaultHandshakeTimeout / time.Second)
	}
	if min := int(minHandshakeTimeout / time.Second); c.Verification.HandshakeTimeoutSeconds < min {
		c.Verification.HandshakeTimeoutSeconds = min
	}
	if max := int(maxHandshakeTimeout / time.Second); c.Verification.HandshakeTimeoutSeconds > max {
		c.Verification.HandshakeTimeoutSeconds = max
	}
	if c.Locks.SuppressionWindowSeconds < 0 {
		c.Locks.SuppressionWindowSeconds = 0
	}
	if c.Locks.RetryDelayMillis <= 0 {
		c.Locks.RetryDelayMillis = int(defaultLockRetryDelay / time.Millisecond)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	return c
}

// HandshakeTimeout returns the clamped timeout as a duration.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Verification.HandshakeTimeoutSeconds) * time.Second
}

// SuppressionWindow returns the post-verification broadcast hold-off.
func (c Config) SuppressionWindow() time.Duration {
	return time.Duration(c.Locks.SuppressionWindowSeconds) * time.Second
}

// LockRetryDelay returns the pause before retrying a failed lock broadcast.
func (c Config) LockRetryDelay() time.Duration {
	return time.Duration(c.Locks.RetryDelayMillis) * time.Millisecond
}
