package modsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"craft-and-carry/modsync/internal/proto"
	"craft-and-carry/modsync/internal/settings"
	"craft-and-carry/modsync/logging"
	lockevents "craft-and-carry/modsync/logging/locks"
	netevents "craft-and-carry/modsync/logging/network"
)

// Role identifies this process's part in the current session.
type Role int32

const (
	RoleNone Role = iota
	RoleHost
	RoleClient
)

// HostTransport delivers payloads from the host to its clients.
type HostTransport interface {
	SendTo(connID string, data []byte) error
	Broadcast(data []byte) error
}

// ClientTransport delivers payloads from a client to the host.
type ClientTransport interface {
	Send(data []byte) error
}

// Identity names this installation on the wire.
type Identity struct {
	PeerID      string
	DisplayName string
	ModName     string
	ModVersion  string
	// Conflicts lists other locally detected mods known to clash with this one.
	Conflicts []string
}

// EventInternalError is published when a public entry point recovers a panic.
const EventInternalError logging.EventType = "system.internal_error"

// ServiceOptions injects test doubles; zero values select production defaults.
type ServiceOptions struct {
	Publisher logging.Publisher
	Scheduler Scheduler
	Now       func() time.Time
}

// Service is the single object business logic talks to before touching shared
// game state. It owns both verification gates and the lock table; no caller
// mutates those directly. Every public method is total: it always returns and
// never propagates a panic, resolving internal errors fail-closed whenever
// another player could be harmed.
type Service struct {
	cfg       Config
	identity  Identity
	publisher logging.Publisher
	telemetry *telemetryCounters
	scheduler Scheduler
	now       func() time.Time

	locks    *LockTable
	settings *settings.Store
	host     *HostGate
	client   *ClientGate

	role atomic.Int32

	mu              sync.Mutex
	hostTransport   HostTransport
	clientTransport ClientTransport
}

// NewService wires a fully isolated verification service instance.
func NewService(cfg Config, identity Identity, opts ServiceOptions) *Service {
	cfg = cfg.Normalized()
	pub := opts.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = SystemScheduler()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	telemetry := newTelemetryCounters()
	s := &Service{
		cfg:       cfg,
		identity:  identity,
		publisher: pub,
		telemetry: telemetry,
		scheduler: scheduler,
		now:       now,
		locks:     NewLockTable(pub, telemetry),
		settings:  settings.NewStore(),
	}

	s.host = newHostGate(hostGateConfig{
		handshakeTimeout:  cfg.HandshakeTimeout(),
		timeoutBuffer:     handshakeTimeoutBuffer,
		suppressionWindow: cfg.SuppressionWindow(),
	}, pub, telemetry, scheduler, now)
	s.host.sendTo = s.sendToConnection
	s.host.ackPayloads = s.ackPayloads

	s.client = newClientGate(cfg.HandshakeTimeout(), pub, telemetry, now)
	s.client.send = s.sendClientHandshake

	return s
}

// StartHosting arms the host gate for a fresh session.
func (s *Service) StartHosting(t HostTransport) {
	defer s.recovered("StartHosting")
	s.mu.Lock()
	s.hostTransport = t
	s.mu.Unlock()
	s.locks.Reset()
	s.host.StartHosting()
	s.role.Store(int32(RoleHost))
}

// StopHosting tears the session down and returns to the pre-session state.
func (s *Service) StopHosting() {
	defer s.recovered("StopHosting")
	s.role.Store(int32(RoleNone))
	s.host.StopHosting()
	s.locks.Reset()
	s.mu.Lock()
	s.hostTransport = nil
	s.mu.Unlock()
}

// JoinSession enters a multiplayer session as a client and starts announcing
// presence to the host.
func (s *Service) JoinSession(t ClientTransport) {
	defer s.recovered("JoinSession")
	s.mu.Lock()
	s.clientTransport = t
	s.mu.Unlock()
	s.locks.Reset()
	s.role.Store(int32(RoleClient))
	s.client.Begin(s.identity.PeerID)
}

// LeaveSession resets the client side, ready for the next join.
func (s *Service) LeaveSession() {
	defer s.recovered("LeaveSession")
	s.role.Store(int32(RoleNone))
	s.client.Reset()
	s.locks.Reset()
	s.settings.Reset()
	s.mu.Lock()
	s.clientTransport = nil
	s.mu.Unlock()
}

// Role returns this process's part in the current session.
func (s *Service) Role() Role {
	return Role(s.role.Load())
}

// IsModAllowed is the single predicate business logic queries before mutating
// shared state. Single-player is always allowed; a host is allowed only with
// every peer verified and no violation on record; a client only once the host
// confirmed it. An internal error fails open only when no other player is at
// risk.
func (s *Service) IsModAllowed() (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.publishInternalError("IsModAllowed", r)
			allowed = s.Role() == RoleNone
		}
	}()
	switch s.Role() {
	case RoleHost:
		return s.host.Allowed()
	case RoleClient:
		return s.client.Confirmed()
	default:
		return true
	}
}

// GetLockReason returns nil when mod function is allowed, otherwise a
// human-readable cause drawn from the active gate.
func (s *Service) GetLockReason() (reason *string) {
	defer func() {
		if r := recover(); r != nil {
			s.publishInternalError("GetLockReason", r)
			msg := "verification state unavailable"
			reason = &msg
		}
	}()
	switch s.Role() {
	case RoleHost:
		status := s.host.Status()
		switch status.State {
		case HostViolation:
			msg := fmt.Sprintf("peer %s lacks the mod", status.Culprit)
			return &msg
		case HostVerifying:
			msg := fmt.Sprintf("waiting on %d peer(s) to verify mod support", status.Unverified)
			return &msg
		}
	case RoleClient:
		switch s.client.State() {
		case ClientAwaitingAck:
			msg := "waiting for the server to verify mod support"
			return &msg
		case ClientTimedOut:
			msg := "server did not respond to mod verification"
			return &msg
		}
	}
	return nil
}

// PeerConnected registers a transport-level connection on the host.
func (s *Service) PeerConnected(connID string) {
	defer s.recovered("PeerConnected")
	s.host.PeerConnected(connID)
}

// PeerEnteredWorld correlates a connection with a stable player identity.
func (s *Service) PeerEnteredWorld(peerID, connID, name string) {
	defer s.recovered("PeerEnteredWorld")
	s.host.PeerEnteredWorld(peerID, connID, name)
}

// PeerDisconnected removes a peer from the session.
func (s *Service) PeerDisconnected(peerID string) {
	defer s.recovered("PeerDisconnected")
	s.host.PeerDisconnected(peerID)
}

// ConnectionClosed handles a dropped connection whose peer identity may never
// have arrived.
func (s *Service) ConnectionClosed(connID string) {
	defer s.recovered("ConnectionClosed")
	s.host.ConnectionClosed(connID)
}

// HandshakeSent records an externally triggered handshake transmission.
func (s *Service) HandshakeSent() {
	s.telemetry.RecordHandshakeSent()
}

// AckReceived confirms this client out of its resend loop.
func (s *Service) AckReceived(fromID string) {
	defer s.recovered("AckReceived")
	s.client.AckReceived(fromID)
}

// HandleMessage dispatches one inbound payload from the transport. Malformed
// payloads are counted and dropped; they never crash the receiving peer.
func (s *Service) HandleMessage(connID string, payload []byte) {
	defer s.recovered("HandleMessage")

	switch proto.MessageType(payload) {
	case proto.TypeHandshake:
		hs := proto.DecodeHandshake(payload)
		if !hs.Valid() {
			s.recordMalformed(proto.TypeHandshake, len(payload))
			return
		}
		s.observeLatency(proto.TypeHandshake, hs.SentAt, handshakeLatencyBudget)
		switch s.Role() {
		case RoleHost:
			s.host.HandshakeReceived(hs, connID)
		case RoleClient:
			s.client.AckReceived(hs.SenderID)
		}
	case proto.TypeLockUpdate:
		update := proto.DecodeLockUpdate(payload)
		if !update.Pos.Valid() {
			s.recordMalformed(proto.TypeLockUpdate, len(payload))
			return
		}
		s.observeLatency(proto.TypeLockUpdate, update.SentAt, lockLatencyBudget)
		applied := s.locks.Apply(update.Pos, update.SentAt, update.Unlock)
		switch s.Role() {
		case RoleHost:
			if applied {
				// Star topology: the host relays winning updates so every
				// client converges without peer-to-peer links.
				s.broadcastLockPayload(payload, update.Pos, update.Unlock, connID)
			}
		case RoleClient:
			// A broadcast reaching us means a verified peer is talking to us.
			s.client.AckReceived("")
		}
	case proto.TypeConfigSnapshot:
		snapshot := proto.DecodeConfigSnapshot(payload)
		s.settings.Apply(snapshot.Settings)
		if s.Role() == RoleClient {
			s.client.AckReceived("")
		}
	default:
		s.recordMalformed("", len(payload))
	}
}

// ApplyLockUpdate reconciles one update into the lock table and reports
// whether it won the timestamp race.
func (s *Service) ApplyLockUpdate(pos proto.Position, timestamp int64, unlock bool) (applied bool) {
	defer s.recovered("ApplyLockUpdate")
	return s.locks.Apply(pos, timestamp, unlock)
}

// ContainerLocked reports whether a peer currently holds the container.
func (s *Service) ContainerLocked(pos proto.Position) bool {
	return s.locks.Locked(pos)
}

// Settings returns the mod settings currently in force.
func (s *Service) Settings() settings.ModSettings {
	return s.settings.Current()
}

// BroadcastContainerLock applies a local lock/unlock and announces it to the
// session. Container-open UI events on this peer land here.
func (s *Service) BroadcastContainerLock(pos proto.Position, unlock bool) {
	defer s.recovered("BroadcastContainerLock")

	timestamp := s.now().UnixMilli()
	s.locks.Apply(pos, timestamp, unlock)

	payload, err := proto.EncodeLockUpdate(proto.LockUpdate{
		Pos:    pos,
		Unlock: unlock,
		SentAt: timestamp,
	})
	if err != nil {
		return
	}
	s.broadcastLockPayload(payload, pos, unlock, "")
}

// broadcastLockPayload fans a lock update out to the session, honoring the
// post-verification suppression window on the host, and arms a single retry
// for transient send failures.
func (s *Service) broadcastLockPayload(payload []byte, pos proto.Position, unlock bool, excludeConn string) {
	switch s.Role() {
	case RoleHost:
		s.mu.Lock()
		transport := s.hostTransport
		s.mu.Unlock()
		if transport == nil {
			return
		}
		targets, suppressed := s.host.LockBroadcastTargets()
		for i := 0; i < suppressed; i++ {
			s.telemetry.RecordSuppressed()
		}
		if suppressed > 0 {
			lockevents.BroadcastSuppressed(context.Background(), s.publisher, logging.ContainerRef(containerKey(pos)))
		}
		sent := false
		for _, connID := range targets {
			if connID == excludeConn {
				continue
			}
			if err := transport.SendTo(connID, payload); err != nil {
				s.reportSendFailure(connID, err)
				s.armLockRetry(payload, pos, unlock, connID)
				continue
			}
			sent = true
		}
		if sent {
			s.telemetry.RecordLockBroadcast()
		}
	case RoleClient:
		s.mu.Lock()
		transport := s.clientTransport
		s.mu.Unlock()
		if transport == nil {
			return
		}
		if err := transport.Send(payload); err != nil {
			s.reportSendFailure("", err)
			s.armLockRetry(payload, pos, unlock, "")
			return
		}
		s.telemetry.RecordLockBroadcast()
	}
}

// armLockRetry schedules exactly one resend of a failed lock broadcast. The
// retry aborts if the table no longer agrees with the update, which means the
// race it was announcing has already been superseded.
func (s *Service) armLockRetry(payload []byte, pos proto.Position, unlock bool, connID string) {
	s.scheduler.After(s.cfg.LockRetryDelay(), func() {
		if s.locks.Locked(pos) == unlock {
			return
		}
		s.telemetry.RecordLockRetry()
		lockevents.BroadcastRetry(context.Background(), s.publisher, logging.ContainerRef(containerKey(pos)))
		switch s.Role() {
		case RoleHost:
			s.mu.Lock()
			transport := s.hostTransport
			s.mu.Unlock()
			if transport == nil {
				return
			}
			if err := transport.SendTo(connID, payload); err != nil {
				s.reportSendFailure(connID, err)
			}
		case RoleClient:
			s.mu.Lock()
			transport := s.clientTransport
			s.mu.Unlock()
			if transport == nil {
				return
			}
			if err := transport.Send(payload); err != nil {
				s.reportSendFailure("", err)
			}
		}
	})
}

// TelemetrySnapshot exposes counters for the diagnostics endpoint.
func (s *Service) TelemetrySnapshot() TelemetrySnapshot {
	return s.telemetry.Snapshot()
}

// HostStatus exposes the host gate for diagnostics.
func (s *Service) HostStatus() HostStatus {
	return s.host.Status()
}

// ClientState exposes the client gate for diagnostics.
func (s *Service) ClientState() ClientWaitState {
	return s.client.State()
}

// LockedContainers reports how many containers are currently held.
func (s *Service) LockedContainers() int {
	return s.locks.LockedCount()
}

func (s *Service) sendToConnection(connID string, data []byte) {
	s.mu.Lock()
	transport := s.hostTransport
	s.mu.Unlock()
	if transport == nil {
		return
	}
	if err := transport.SendTo(connID, data); err != nil {
		s.reportSendFailure(connID, err)
	}
}

func (s *Service) sendClientHandshake() error {
	s.mu.Lock()
	transport := s.clientTransport
	s.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("no session transport")
	}
	payload, err := proto.EncodeHandshake(s.selfHandshake())
	if err != nil {
		return fmt.Errorf("encode handshake: %w", err)
	}
	if err := transport.Send(payload); err != nil {
		s.reportSendFailure("", err)
		return err
	}
	return nil
}

func (s *Service) selfHandshake() proto.Handshake {
	return proto.Handshake{
		SenderID:   s.identity.PeerID,
		SenderName: s.identity.DisplayName,
		ModName:    s.identity.ModName,
		ModVersion: s.identity.ModVersion,
		Conflicts:  s.identity.Conflicts,
		SentAt:     s.now().UnixMilli(),
	}
}

// ackPayloads builds the two payloads the host returns on every handshake
// receipt: its current settings snapshot and its own handshake.
func (s *Service) ackPayloads() [][]byte {
	payloads := make([][]byte, 0, 2)
	if snapshot, err := proto.EncodeConfigSnapshot(proto.ConfigSnapshot{
		Settings: s.settings.Current(),
		SentAt:   s.now().UnixMilli(),
	}); err == nil {
		payloads = append(payloads, snapshot)
	}
	if hs, err := proto.EncodeHandshake(s.selfHandshake()); err == nil {
		payloads = append(payloads, hs)
	}
	return payloads
}

func (s *Service) observeLatency(messageType string, sentAt int64, budget time.Duration) {
	if sentAt <= 0 {
		return
	}
	latency := s.now().Sub(time.UnixMilli(sentAt))
	if latency < 0 {
		latency = 0
	}
	switch messageType {
	case proto.TypeHandshake:
		s.telemetry.RecordHandshakeLatency(latency)
	case proto.TypeLockUpdate:
		s.telemetry.RecordLockLatency(latency)
	}
	if latency > budget {
		netevents.LatencyWarning(context.Background(), s.publisher, logging.EntityRef{Kind: logging.EntityKindSession}, netevents.LatencyPayload{
			MessageType: messageType,
			ObservedMs:  latency.Milliseconds(),
			BudgetMs:    budget.Milliseconds(),
		})
	}
}

func (s *Service) recordMalformed(messageType string, size int) {
	s.telemetry.RecordMalformedMessage()
	netevents.MalformedMessage(context.Background(), s.publisher, logging.EntityRef{Kind: logging.EntityKindSession}, netevents.MalformedPayload{
		MessageType: messageType,
		Bytes:       size,
	})
}

func (s *Service) reportSendFailure(connID string, err error) {
	s.telemetry.RecordSendFailure()
	netevents.SendFailed(context.Background(), s.publisher, logging.EntityRef{Kind: logging.EntityKindSession}, netevents.SendFailedPayload{
		ConnectionID: connID,
		Error:        err.Error(),
	})
}

func (s *Service) recovered(op string) {
	if r := recover(); r != nil {
		s.publishInternalError(op, r)
	}
}

func (s *Service) publishInternalError(op string, cause any) {
	s.publisher.Publish(context.Background(), logging.Event{
		Type:     EventInternalError,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSession},
		Severity: logging.SeverityError,
		Category: logging.CategorySystem,
		Payload:  map[string]any{"op": op, "cause": fmt.Sprint(cause)},
	})
}
