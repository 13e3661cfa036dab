package modsync

import (
	"sync/atomic"
	"time"
)

type telemetryCounters struct {
	peersConnected      atomic.Uint64
	peersVerified       atomic.Uint64
	peersDisconnected   atomic.Uint64
	handshakesSent      atomic.Uint64
	handshakesReceived  atomic.Uint64
	duplicateHandshakes atomic.Uint64
	handshakeTimeouts   atomic.Uint64
	clientRetries       atomic.Uint64

	lockUpdatesApplied  atomic.Uint64
	lockUpdatesStale    atomic.Uint64
	lockUpdatesInvalid  atomic.Uint64
	lockBroadcasts      atomic.Uint64
	broadcastsSuppress  atomic.Uint64
	lockBroadcastRetry  atomic.Uint64
	sendFailures        atomic.Uint64
	malformedMessages   atomic.Uint64
	lastHandshakeRTT    atomic.Int64
	lastLockUpdateDelay atomic.Int64
}

// TelemetrySnapshot is the JSON view served by the diagnostics endpoint.
type TelemetrySnapshot struct {
	PeersConnected      uint64 `json:"peersConnected"`
	PeersVerified       uint64 `json:"peersVerified"`
	PeersDisconnected   uint64 `json:"peersDisconnected"`
	HandshakesSent      uint64 `json:"handshakesSent"`
	HandshakesReceived  uint64 `json:"handshakesReceived"`
	DuplicateHandshakes uint64 `json:"duplicateHandshakes"`
	HandshakeTimeouts   uint64 `json:"handshakeTimeouts"`
	ClientRetries       uint64 `json:"clientRetries"`
	LockUpdatesApplied  uint64 `json:"lockUpdatesApplied"`
	LockUpdatesStale    uint64 `json:"lockUpdatesStale"`
	LockUpdatesInvalid  uint64 `json:"lockUpdatesInvalid"`
	LockBroadcasts      uint64 `json:"lockBroadcasts"`
	BroadcastsSuppress  uint64 `json:"broadcastsSuppressed"`
	LockBroadcastRetry  uint64 `json:"lockBroadcastRetries"`
	SendFailures        uint64 `json:"sendFailures"`
	MalformedMessages   uint64 `json:"malformedMessages"`
	LastHandshakeMillis int64  `json:"lastHandshakeMillis"`
	LastLockMillis      int64  `json:"lastLockMillis"`
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{}
}

func (t *telemetryCounters) RecordPeerConnected()      { t.peersConnected.Add(1) }
func (t *telemetryCounters) RecordPeerVerified()       { t.peersVerified.Add(1) }
func (t *telemetryCounters) RecordPeerDisconnected()   { t.peersDisconnected.Add(1) }
func (t *telemetryCounters) RecordHandshakeSent()      { t.handshakesSent.Add(1) }
func (t *telemetryCounters) RecordHandshakeReceived()  { t.handshakesReceived.Add(1) }
func (t *telemetryCounters) RecordDuplicateHandshake() { t.duplicateHandshakes.Add(1) }
func (t *telemetryCounters) RecordHandshakeTimeout()   { t.handshakeTimeouts.Add(1) }
func (t *telemetryCounters) RecordClientRetry()        { t.clientRetries.Add(1) }
func (t *telemetryCounters) RecordLockApplied()        { t.lockUpdatesApplied.Add(1) }
func (t *telemetryCounters) RecordLockStale()          { t.lockUpdatesStale.Add(1) }
func (t *telemetryCounters) RecordLockInvalid()        { t.lockUpdatesInvalid.Add(1) }
func (t *telemetryCounters) RecordLockBroadcast()      { t.lockBroadcasts.Add(1) }
func (t *telemetryCounters) RecordSuppressed()         { t.broadcastsSuppress.Add(1) }
func (t *telemetryCounters) RecordLockRetry()          { t.lockBroadcastRetry.Add(1) }
func (t *telemetryCounters) RecordSendFailure()        { t.sendFailures.Add(1) }
func (t *telemetryCounters) RecordMalformedMessage()   { t.malformedMessages.Add(1) }

func (t *telemetryCounters) RecordHandshakeLatency(latency time.Duration) {
	millis := latency.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.lastHandshakeRTT.Store(millis)
}

func (t *telemetryCounters) RecordLockLatency(latency time.Duration) {
	millis := latency.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.lastLockUpdateDelay.Store(millis)
}

func (t *telemetryCounters) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		PeersConnected:      t.peersConnected.Load(),
		PeersVerified:       t.peersVerified.Load(),
		PeersDisconnected:   t.peersDisconnected.Load(),
		HandshakesSent:      t.handshakesSent.Load(),
		HandshakesReceived:  t.handshakesReceived.Load(),
		DuplicateHandshakes: t.duplicateHandshakes.Load(),
		HandshakeTimeouts:   t.handshakeTimeouts.Load(),
		ClientRetries:       t.clientRetries.Load(),
		LockUpdatesApplied:  t.lockUpdatesApplied.Load(),
		LockUpdatesStale:    t.lockUpdatesStale.Load(),
		LockUpdatesInvalid:  t.lockUpdatesInvalid.Load(),
		LockBroadcasts:      t.lockBroadcasts.Load(),
		BroadcastsSuppress:  t.broadcastsSuppress.Load(),
		LockBroadcastRetry:  t.lockBroadcastRetry.Load(),
		SendFailures:        t.sendFailures.Load(),
		MalformedMessages:   t.malformedMessages.Load(),
		LastHandshakeMillis: t.lastHandshakeRTT.Load(),
		LastLockMillis:      t.lastLockUpdateDelay.Load(),
	}
}
