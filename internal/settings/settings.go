package settings

import "sync"

// ModSettings is the flat set of tunables the host shares with every verified
// peer. The struct doubles as the JSON contract for the snapshot payload; the
// schema generator in cmd/schema reflects over it to produce a machine-readable
// document for validation and editor tooling.
type ModSettings struct {
	DrawFromNearby   bool     `json:"drawFromNearby" jsonschema:"title=Draw from nearby,description=Allow pulling crafting materials from nearby containers"`
	RefuelFromNearby bool     `json:"refuelFromNearby" jsonschema:"title=Refuel from nearby,description=Allow pulling fuel from nearby containers"`
	RepairFromNearby bool     `json:"repairFromNearby" jsonschema:"title=Repair from nearby,description=Allow pulling repair materials from nearby containers"`
	SearchRadius     float64  `json:"searchRadius" jsonschema:"title=Search radius,minimum=0,description=Maximum distance in blocks to scan for containers"`
	Priority         []string `json:"priority,omitempty" jsonschema:"title=Container priority,description=Container kinds ordered from first to last to draw from"`
}

// Default returns the settings used before a host snapshot arrives.
func Default() ModSettings {
	return ModSettings{
		DrawFromNearby:   true,
		RefuelFromNearby: true,
		RepairFromNearby: true,
		SearchRadius:     15,
		Priority:         []string{"crate", "barrel", "chest"},
	}
}

// Clone returns a copy that shares no mutable state with the receiver.
func (s ModSettings) Clone() ModSettings {
	cloned := s
	if len(s.Priority) > 0 {
		cloned.Priority = append([]string(nil), s.Priority...)
	}
	return cloned
}

// Store holds the settings currently in force. Snapshots arrive on the
// transport thread while the main loop reads them, so access is serialized.
type Store struct {
	mu      sync.RWMutex
	current ModSettings
}

// NewStore creates a store seeded with defaults.
func NewStore() *Store {
	return &Store{current: Default()}
}

// Apply replaces the settings wholesale with the host's snapshot.
func (s *Store) Apply(next ModSettings) {
	s.mu.Lock()
	s.current = next.Clone()
	s.mu.Unlock()
}

// Current returns a copy of the settings in force.
func (s *Store) Current() ModSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Reset restores defaults, used when a session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	s.current = Default()
	s.mu.Unlock()
}
