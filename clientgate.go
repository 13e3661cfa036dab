package modsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"craft-and-carry/modsync/logging"
	verifevents "craft-and-carry/modsync/logging/verification"
)

// ClientWaitState tracks this client's progress towards host acknowledgement.
type ClientWaitState int32

const (
	ClientIdle ClientWaitState = iota
	ClientAwaitingAck
	ClientConfirmed
	ClientTimedOut
)

// ClientGate announces presence to the host and resends the handshake once a
// second until something acknowledgement-bearing arrives or the configured
// timeout expires. Single-player sessions bypass it entirely.
type ClientGate struct {
	publisher     logging.Publisher
	telemetry     *telemetryCounters
	now           func() time.Time
	retryInterval time.Duration
	timeout       time.Duration

	// send encodes and transmits this client's handshake; wired by the service.
	send func() error

	state atomic.Int32

	mu         sync.Mutex
	selfID     string
	sentAt     time.Time
	retryCount int
	stop       chan struct{}
}

func newClientGate(timeout time.Duration, pub logging.Publisher, telemetry *telemetryCounters, now func() time.Time) *ClientGate {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if now == nil {
		now = time.Now
	}
	return &ClientGate{
		publisher:     pub,
		telemetry:     telemetry,
		now:           now,
		retryInterval: clientRetryInterval,
		timeout:       timeout,
	}
}

// Begin enters AwaitingAck, sends the first handshake, and starts the resend
// loop. Calling it while a wait is already in progress is a no-op.
func (g *ClientGate) Begin(selfID string) {
	if !g.state.CompareAndSwap(int32(ClientIdle), int32(ClientAwaitingAck)) {
		return
	}

	g.mu.Lock()
	g.selfID = selfID
	g.sentAt = g.now()
	g.retryCount = 0
	g.stop = make(chan struct{})
	stop := g.stop
	g.mu.Unlock()

	g.sendHandshake()
	go g.run(stop)
}

func (g *ClientGate) run(stop <-chan struct{}) {
	ticker := time.NewTicker(g.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !g.step(g.now()) {
				return
			}
		}
	}
}

// step performs one iteration of the resend loop and reports whether the loop
// should keep running. Exposed separately from run so tests can drive the
// clock deterministically.
func (g *ClientGate) step(now time.Time) bool {
	if g.State() != ClientAwaitingAck {
		return false
	}

	g.mu.Lock()
	g.retryCount++
	attempt := g.retryCount
	elapsed := now.Sub(g.sentAt)
	selfID := g.selfID
	g.mu.Unlock()

	g.sendHandshake()
	if g.telemetry != nil {
		g.telemetry.RecordClientRetry()
	}
	verifevents.ClientRetry(context.Background(), g.publisher, logging.PeerRef(selfID), verifevents.RetryPayload{
		Attempt:   attempt,
		ElapsedMs: elapsed.Milliseconds(),
	})

	if elapsed >= g.timeout {
		if g.state.CompareAndSwap(int32(ClientAwaitingAck), int32(ClientTimedOut)) {
			if g.telemetry != nil {
				g.telemetry.RecordHandshakeTimeout()
			}
			verifevents.ClientTimedOut(context.Background(), g.publisher, logging.PeerRef(selfID), verifevents.RetryPayload{
				Attempt:   attempt,
				ElapsedMs: elapsed.Milliseconds(),
			})
		}
		return false
	}
	return true
}

func (g *ClientGate) sendHandshake() {
	if g.send == nil {
		return
	}
	if err := g.send(); err == nil && g.telemetry != nil {
		g.telemetry.RecordHandshakeSent()
	}
}

// AckReceived idempotently confirms the client. Anything acknowledgement
// bearing counts: a handshake from the host or a broadcast from any verified
// peer. Duplicates are logged and ignored, never reprocessed.
func (g *ClientGate) AckReceived(fromID string) {
	if g.state.CompareAndSwap(int32(ClientAwaitingAck), int32(ClientConfirmed)) {
		g.mu.Lock()
		selfID := g.selfID
		g.mu.Unlock()
		verifevents.ClientConfirmed(context.Background(), g.publisher, logging.PeerRef(selfID))
		return
	}
	verifevents.DuplicateHandshake(context.Background(), g.publisher, logging.PeerRef(fromID))
}

// Reset stops the resend loop and returns to Idle, ready for the next session.
func (g *ClientGate) Reset() {
	g.mu.Lock()
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
	g.retryCount = 0
	g.mu.Unlock()
	g.state.Store(int32(ClientIdle))
}

// State returns the current wait state.
func (g *ClientGate) State() ClientWaitState {
	return ClientWaitState(g.state.Load())
}

// Confirmed reports whether the host acknowledged this client.
func (g *ClientGate) Confirmed() bool {
	return g.State() == ClientConfirmed
}

// RetryCount reports how many resends have happened, for diagnostics.
func (g *ClientGate) RetryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retryCount
}
