package modsync

import "time"

const (
	// Handshake timeout bounds. Operator-configured values outside this range
	// are clamped rather than rejected.
	minHandshakeTimeout     = 3 * time.Second
	maxHandshakeTimeout     = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second

	// Grace added on top of the handshake timeout before a pending peer is
	// declared a violation. Covers the gap between transport connect and the
	// peer actually entering the world.
	handshakeTimeoutBuffer = 2 * time.Second

	// Cadence of the client's handshake resend loop.
	clientRetryInterval = time.Second

	// Window after verification during which lock broadcasts are withheld
	// from the freshly verified peer.
	defaultSuppressionWindow = 3 * time.Second

	// Delay before the single retry of a failed lock broadcast.
	defaultLockRetryDelay = 250 * time.Millisecond

	// End-to-end latency budgets; crossing one logs a warning.
	lockLatencyBudget      = 500 * time.Millisecond
	handshakeLatencyBudget = time.Second
)
