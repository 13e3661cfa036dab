package modsync

import (
	"context"
	"fmt"
	"sync"

	"craft-and-carry/modsync/internal/proto"
	"craft-and-carry/modsync/logging"
	lockevents "craft-and-carry/modsync/logging/locks"
)

type lockEntry struct {
	lastTimestamp int64
	locked        bool
}

// LockTable is the per-container last-write-wins store. Updates are applied
// only when their timestamp strictly exceeds the entry's, so peers applying
// the same set of updates in any arrival order converge on the same state.
// Entries persist for the session; the table is bounded by the number of
// distinct containers touched, not by connection count.
type LockTable struct {
	mu        sync.Mutex
	entries   map[proto.Position]*lockEntry
	publisher logging.Publisher
	telemetry *telemetryCounters
}

// NewLockTable creates an empty table.
func NewLockTable(pub logging.Publisher, telemetry *telemetryCounters) *LockTable {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &LockTable{
		entries:   make(map[proto.Position]*lockEntry),
		publisher: pub,
		telemetry: telemetry,
	}
}

// Apply reconciles one lock update into the table and reports whether it won.
// A timestamp at or below the entry's current one loses the race and is
// discarded unchanged; that is the expected outcome for reordered or
// duplicated broadcasts, not an error.
func (t *LockTable) Apply(pos proto.Position, timestamp int64, unlock bool) bool {
	if !pos.Valid() {
		if t.telemetry != nil {
			t.telemetry.RecordLockInvalid()
		}
		return false
	}

	t.mu.Lock()
	entry, ok := t.entries[pos]
	if !ok {
		entry = &lockEntry{lastTimestamp: -1 << 62}
		t.entries[pos] = entry
	}
	previous := entry.lastTimestamp
	applied := timestamp > previous
	if applied {
		entry.lastTimestamp = timestamp
		entry.locked = !unlock
	}
	locked := entry.locked
	t.mu.Unlock()

	actor := logging.ContainerRef(containerKey(pos))
	if applied {
		if t.telemetry != nil {
			t.telemetry.RecordLockApplied()
		}
		lockevents.UpdateApplied(context.Background(), t.publisher, actor, lockevents.UpdatePayload{
			Timestamp: timestamp,
			Locked:    locked,
		})
	} else {
		if t.telemetry != nil {
			t.telemetry.RecordLockStale()
		}
		lockevents.UpdateStale(context.Background(), t.publisher, actor, lockevents.UpdatePayload{
			Timestamp: timestamp,
			Previous:  previous,
			Locked:    locked,
		})
	}
	return applied
}

// Locked reports whether the container at pos is currently held by a peer.
// Unknown containers are unlocked.
func (t *LockTable) Locked(pos proto.Position) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[pos]
	if !ok {
		return false
	}
	return entry.locked
}

// Len returns the number of containers ever referenced this session.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// LockedCount returns how many containers are currently locked.
func (t *LockTable) LockedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, entry := range t.entries {
		if entry.locked {
			count++
		}
	}
	return count
}

// Reset drops every entry, used when a session ends.
func (t *LockTable) Reset() {
	t.mu.Lock()
	t.entries = make(map[proto.Position]*lockEntry)
	t.mu.Unlock()
}

func containerKey(pos proto.Position) string {
	return fmt.Sprintf("%d,%d,%d", pos.X, pos.Y, pos.Z)
}
