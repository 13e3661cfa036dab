package modsync

import (
	"testing"
	"time"
)

func TestTelemetrySnapshotReflectsCounters(t *testing.T) {
	c := newTelemetryCounters()

	c.RecordPeerConnected()
	c.RecordPeerConnected()
	c.RecordPeerVerified()
	c.RecordHandshakeReceived()
	c.RecordDuplicateHandshake()
	c.RecordLockApplied()
	c.RecordLockStale()
	c.RecordSendFailure()

	snapshot := c.Snapshot()
	if snapshot.PeersConnected != 2 {
		t.Fatalf("peers connected = %d, want 2", snapshot.PeersConnected)
	}
	if snapshot.PeersVerified != 1 || snapshot.HandshakesReceived != 1 {
		t.Fatalf("snapshot = %+v, want the recorded counts", snapshot)
	}
	if snapshot.DuplicateHandshakes != 1 || snapshot.LockUpdatesApplied != 1 || snapshot.LockUpdatesStale != 1 {
		t.Fatalf("snapshot = %+v, want the recorded counts", snapshot)
	}
	if snapshot.SendFailures != 1 {
		t.Fatalf("send failures = %d, want 1", snapshot.SendFailures)
	}
}

func TestTelemetryLatencyClampsNegative(t *testing.T) {
	c := newTelemetryCounters()

	c.RecordHandshakeLatency(-3 * time.Second)
	c.RecordLockLatency(750 * time.Millisecond)

	snapshot := c.Snapshot()
	if snapshot.LastHandshakeMillis != 0 {
		t.Fatalf("handshake latency = %d, want clock skew clamped to 0", snapshot.LastHandshakeMillis)
	}
	if snapshot.LastLockMillis != 750 {
		t.Fatalf("lock latency = %d, want 750", snapshot.LastLockMillis)
	}
}
