package modsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"craft-and-carry/modsync/internal/proto"
	"craft-and-carry/modsync/logging"
	verifevents "craft-and-carry/modsync/logging/verification"
)

// HostState summarizes the host gate for diagnostics.
type HostState int

const (
	HostUnlocked HostState = iota
	HostVerifying
	HostViolation
)

// HostStatus is a point-in-time view of the gate.
type HostStatus struct {
	State      HostState
	Unverified int64
	Culprit    string
}

type hostGateConfig struct {
	handshakeTimeout  time.Duration
	timeoutBuffer     time.Duration
	suppressionWindow time.Duration
}

// pendingPeer tracks a connecting client before verification completes.
// The connection handle is known immediately; the stable player identity
// arrives later, on a different channel, and may be reordered against it.
type pendingPeer struct {
	connectionID  string
	peerID        string
	displayName   string
	joinTime      time.Time
	timedOut      bool
	cancelTimeout func()
}

type verifiedPeer struct {
	connectionID string
	displayName  string
	verifiedAt   time.Time
}

// HostGate tracks every connecting peer's verification status and derives the
// single "mod allowed" answer for the hosting side. A peer counts against the
// gate from the instant it attaches at transport level: a client without the
// mod could otherwise mutate shared containers during the window before its
// handshake would have arrived.
//
// Inbound transport callbacks and timer callbacks race with main-loop reads,
// so membership lives behind the mutex and the unverified count is an atomic
// with a clamped decrement.
type HostGate struct {
	cfg       hostGateConfig
	publisher logging.Publisher
	telemetry *telemetryCounters
	scheduler Scheduler
	now       func() time.Time

	// sendTo delivers an encoded payload to one connection; ackPayloads
	// yields the host's current config snapshot plus its own handshake,
	// re-sent on every handshake receipt to recover from one-way loss.
	sendTo      func(connID string, data []byte)
	ackPayloads func() [][]byte

	mu              sync.Mutex
	hosting         bool
	pendingByConn   map[string]*pendingPeer
	pendingByPeer   map[string]*pendingPeer
	verified        map[string]verifiedPeer
	connIndex       map[string]string
	earlyHandshakes map[string]proto.Handshake
	violationPeer   string
	violationName   string

	unverified atomic.Int64
}

func newHostGate(cfg hostGateConfig, pub logging.Publisher, telemetry *telemetryCounters, scheduler Scheduler, now func() time.Time) *HostGate {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if scheduler == nil {
		scheduler = SystemScheduler()
	}
	if now == nil {
		now = time.Now
	}
	g := &HostGate{
		cfg:       cfg,
		publisher: pub,
		telemetry: telemetry,
		scheduler: scheduler,
		now:       now,
	}
	g.resetLocked()
	return g
}

func (g *HostGate) resetLocked() {
	for _, p := range g.pendingByConn {
		if p.cancelTimeout != nil {
			p.cancelTimeout()
		}
	}
	g.pendingByConn = make(map[string]*pendingPeer)
	g.pendingByPeer = make(map[string]*pendingPeer)
	g.verified = make(map[string]verifiedPeer)
	g.connIndex = make(map[string]string)
	g.earlyHandshakes = make(map[string]proto.Handshake)
	g.violationPeer = ""
	g.violationName = ""
	g.unverified.Store(0)
}

// StartHosting clears all session state and arms the gate.
func (g *HostGate) StartHosting() {
	g.mu.Lock()
	g.resetLocked()
	g.hosting = true
	g.mu.Unlock()
}

// StopHosting cancels every pending timeout and returns the gate to its
// pre-session state.
func (g *HostGate) StopHosting() {
	g.mu.Lock()
	g.resetLocked()
	g.hosting = false
	g.mu.Unlock()
}

// PeerConnected registers a transport-level connection before any game data
// exists for it. Guilty until proven innocent: the gate locks immediately.
func (g *HostGate) PeerConnected(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hosting {
		return
	}
	if _, exists := g.pendingByConn[connID]; exists {
		return
	}
	peer := &pendingPeer{connectionID: connID, joinTime: g.now()}
	g.pendingByConn[connID] = peer
	count := g.unverified.Add(1)
	if g.telemetry != nil {
		g.telemetry.RecordPeerConnected()
	}
	verifevents.PeerConnected(context.Background(), g.publisher, logging.EntityRef{Kind: logging.EntityKindPeer}, verifevents.PeerPayload{
		ConnectionID: connID,
		Unverified:   count,
	})
}

// PeerEnteredWorld correlates a connection with the peer's stable identity and
// starts the handshake clock. The two notifications may arrive in either
// order; a handshake that beat the correlation is consumed here instead of
// re-registering the peer.
func (g *HostGate) PeerEnteredWorld(peerID, connID, name string) {
	g.mu.Lock()
	if !g.hosting {
		g.mu.Unlock()
		return
	}
	if _, done := g.verified[peerID]; done {
		g.mu.Unlock()
		return
	}

	peer, exists := g.pendingByConn[connID]
	if !exists {
		peer = &pendingPeer{connectionID: connID, joinTime: g.now()}
		g.pendingByConn[connID] = peer
		g.unverified.Add(1)
	}
	peer.peerID = peerID
	peer.displayName = name
	g.pendingByPeer[peerID] = peer
	g.connIndex[connID] = peerID

	if hs, early := g.earlyHandshakes[peerID]; early {
		delete(g.earlyHandshakes, peerID)
		unlocked := g.verifyLocked(peer, hs)
		g.mu.Unlock()
		g.respond(connID)
		if unlocked {
			verifevents.SessionUnlocked(context.Background(), g.publisher)
		}
		return
	}

	wait := g.cfg.handshakeTimeout + g.cfg.timeoutBuffer
	peer.cancelTimeout = g.scheduler.After(wait, func() {
		g.handshakeTimedOut(peerID)
	})
	g.mu.Unlock()
}

// HandshakeReceived processes a peer's mod-presence proof. Duplicates from
// retransmission are accepted silently, and the host answers every receipt
// with its current config snapshot and its own handshake so a client whose
// first copy was lost still converges without a dedicated ack protocol.
func (g *HostGate) HandshakeReceived(hs proto.Handshake, connID string) {
	if !hs.Valid() {
		return
	}
	if g.telemetry != nil {
		g.telemetry.RecordHandshakeReceived()
	}
	defer g.respond(connID)

	g.mu.Lock()
	if !g.hosting {
		g.mu.Unlock()
		return
	}

	if _, done := g.verified[hs.SenderID]; done {
		g.mu.Unlock()
		if g.telemetry != nil {
			g.telemetry.RecordDuplicateHandshake()
		}
		verifevents.DuplicateHandshake(context.Background(), g.publisher, logging.PeerRef(hs.SenderID))
		return
	}

	if len(hs.Conflicts) > 0 {
		verifevents.ConflictsReported(context.Background(), g.publisher, logging.PeerRef(hs.SenderID), verifevents.ConflictsPayload{
			Conflicts: hs.Conflicts,
		})
	}

	peer := g.pendingByPeer[hs.SenderID]
	if peer == nil && connID != "" {
		// The handshake can outrun the world-entry notification; the
		// connection it arrived on is correlation enough.
		if candidate, ok := g.pendingByConn[connID]; ok && candidate.peerID == "" {
			candidate.peerID = hs.SenderID
			candidate.displayName = hs.SenderName
			g.pendingByPeer[hs.SenderID] = candidate
			g.connIndex[connID] = hs.SenderID
			peer = candidate
		}
	}
	if peer == nil {
		// Nothing to consume yet; remember the proof for correlation time.
		g.earlyHandshakes[hs.SenderID] = hs
		g.mu.Unlock()
		return
	}

	unlocked := g.verifyLocked(peer, hs)
	g.mu.Unlock()
	if unlocked {
		verifevents.SessionUnlocked(context.Background(), g.publisher)
	}
}

// verifyLocked moves a pending peer into the verified set exactly once and
// reports whether the gate just became unlocked.
func (g *HostGate) verifyLocked(peer *pendingPeer, hs proto.Handshake) bool {
	if peer.cancelTimeout != nil {
		peer.cancelTimeout()
		peer.cancelTimeout = nil
	}
	delete(g.pendingByConn, peer.connectionID)
	if peer.peerID != "" {
		delete(g.pendingByPeer, peer.peerID)
	}

	name := peer.displayName
	if name == "" {
		name = hs.SenderName
	}
	g.verified[hs.SenderID] = verifiedPeer{
		connectionID: peer.connectionID,
		displayName:  name,
		verifiedAt:   g.now(),
	}
	g.connIndex[peer.connectionID] = hs.SenderID

	count := g.decrementUnverified()
	if g.telemetry != nil {
		g.telemetry.RecordPeerVerified()
	}
	verifevents.PeerVerified(context.Background(), g.publisher, logging.PeerRef(hs.SenderID), verifevents.PeerPayload{
		ConnectionID: peer.connectionID,
		Name:         name,
		Unverified:   count,
	})
	return count == 0 && g.violationPeer == ""
}

func (g *HostGate) handshakeTimedOut(peerID string) {
	g.mu.Lock()
	peer, ok := g.pendingByPeer[peerID]
	if !ok || !g.hosting {
		// Verified or disconnected before the timer fired.
		g.mu.Unlock()
		return
	}
	peer.timedOut = true
	name := peer.displayName
	if name == "" {
		name = peerID
	}
	g.violationPeer = peerID
	g.violationName = name
	count := g.unverified.Load()
	g.mu.Unlock()

	if g.telemetry != nil {
		g.telemetry.RecordHandshakeTimeout()
	}
	verifevents.HandshakeTimeout(context.Background(), g.publisher, logging.PeerRef(peerID), verifevents.PeerPayload{
		Name:       name,
		Unverified: count,
	})
}

// PeerDisconnected removes a peer from both sets. A disconnecting culprit
// clears the violation, and the gate re-derives its state from whichever
// peers remain.
func (g *HostGate) PeerDisconnected(peerID string) {
	g.mu.Lock()
	if !g.hosting {
		g.mu.Unlock()
		return
	}

	wasAllowed := g.allowedLocked()
	removed := false

	if peer, ok := g.pendingByPeer[peerID]; ok {
		if peer.cancelTimeout != nil {
			peer.cancelTimeout()
		}
		delete(g.pendingByConn, peer.connectionID)
		delete(g.pendingByPeer, peerID)
		delete(g.connIndex, peer.connectionID)
		g.decrementUnverified()
		removed = true
	}
	if peer, ok := g.verified[peerID]; ok {
		delete(g.verified, peerID)
		delete(g.connIndex, peer.connectionID)
		removed = true
	}
	delete(g.earlyHandshakes, peerID)

	if g.violationPeer == peerID {
		g.violationPeer = ""
		g.violationName = ""
		// Another silent peer may already have timed out; keep the lock on it.
		for id, p := range g.pendingByPeer {
			if p.timedOut {
				g.violationPeer = id
				g.violationName = p.displayName
				if g.violationName == "" {
					g.violationName = id
				}
				break
			}
		}
	}

	count := g.unverified.Load()
	unlocked := !wasAllowed && g.allowedLocked()
	g.mu.Unlock()

	if !removed {
		return
	}
	if g.telemetry != nil {
		g.telemetry.RecordPeerDisconnected()
	}
	verifevents.PeerDisconnected(context.Background(), g.publisher, logging.PeerRef(peerID), verifevents.PeerPayload{
		Unverified: count,
	})
	if unlocked {
		verifevents.SessionUnlocked(context.Background(), g.publisher)
	}
}

// ConnectionClosed resolves a dropped connection to its peer, if the identity
// ever arrived, and removes it. A connection that never produced an identity
// still releases its slot in the unverified count.
func (g *HostGate) ConnectionClosed(connID string) {
	g.mu.Lock()
	if peerID, ok := g.connIndex[connID]; ok {
		g.mu.Unlock()
		g.PeerDisconnected(peerID)
		return
	}
	wasAllowed := g.allowedLocked()
	if peer, ok := g.pendingByConn[connID]; ok {
		if peer.cancelTimeout != nil {
			peer.cancelTimeout()
		}
		delete(g.pendingByConn, connID)
		g.decrementUnverified()
	}
	unlocked := !wasAllowed && g.allowedLocked()
	g.mu.Unlock()
	if unlocked {
		verifevents.SessionUnlocked(context.Background(), g.publisher)
	}
}

func (g *HostGate) respond(connID string) {
	if connID == "" || g.sendTo == nil || g.ackPayloads == nil {
		return
	}
	for _, payload := range g.ackPayloads() {
		g.sendTo(connID, payload)
	}
}

// decrementUnverified lowers the counter without ever letting racing
// connect/disconnect events drive it negative.
func (g *HostGate) decrementUnverified() int64 {
	for {
		current := g.unverified.Load()
		if current <= 0 {
			return 0
		}
		if g.unverified.CompareAndSwap(current, current-1) {
			return current - 1
		}
	}
}

func (g *HostGate) allowedLocked() bool {
	return g.unverified.Load() == 0 && g.violationPeer == ""
}

// Allowed reports whether mod function is currently permitted on the host.
func (g *HostGate) Allowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hosting {
		return true
	}
	return g.allowedLocked()
}

// UnverifiedCount exposes the live counter for diagnostics and tests.
func (g *HostGate) UnverifiedCount() int64 {
	return g.unverified.Load()
}

// Status returns a snapshot of the gate for diagnostics.
func (g *HostGate) Status() HostStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := HostStatus{Unverified: g.unverified.Load(), Culprit: g.violationName}
	switch {
	case g.violationPeer != "":
		status.State = HostViolation
	case status.Unverified > 0:
		status.State = HostVerifying
	default:
		status.State = HostUnlocked
	}
	return status
}

// LockBroadcastTargets returns the connections that should receive a lock
// broadcast right now. Peers inside their post-verification suppression
// window are withheld: their connection is still stabilizing, and a short
// period of stale remote lock display beats sending into it.
func (g *HostGate) LockBroadcastTargets() (conns []string, suppressed int) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, peer := range g.verified {
		if g.cfg.suppressionWindow > 0 && now.Sub(peer.verifiedAt) < g.cfg.suppressionWindow {
			suppressed++
			continue
		}
		conns = append(conns, peer.connectionID)
	}
	return conns, suppressed
}
