package proto

import (
	"encoding/json"
	"math"

	"craft-and-carry/modsync/internal/settings"
)

const (
	// Version tracks the wire-protocol revision expected by peers.
	Version = 1

	// Type identifiers for mod sync payloads.
	TypeHandshake      = "handshake"
	TypeLockUpdate     = "lockUpdate"
	TypeConfigSnapshot = "configSnapshot"
)

// InvalidCoordinate marks a container axis that failed to parse. A position
// carrying it is never a real container and callers must discard the update.
const InvalidCoordinate = math.MinInt32

// Position identifies a container by its world-grid coordinates.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// InvalidPosition is the sentinel returned when a lock update cannot be parsed.
var InvalidPosition = Position{X: InvalidCoordinate, Y: InvalidCoordinate, Z: InvalidCoordinate}

// Valid reports whether the position refers to a real container.
func (p Position) Valid() bool {
	return p.X != InvalidCoordinate && p.Y != InvalidCoordinate && p.Z != InvalidCoordinate
}

// Envelope carries the fields shared by every wire message.
type Envelope struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
}

// MessageType peeks at a payload and returns its type identifier. Malformed
// payloads yield an empty string so callers can drop them without branching
// on an error.
func MessageType(payload []byte) string {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.Type
}

// Handshake announces a peer's mod identity and version, plus any other mods
// it detected locally that are known to conflict.
type Handshake struct {
	Ver        int      `json:"ver"`
	Type       string   `json:"type"`
	SenderID   string   `json:"senderId"`
	SenderName string   `json:"senderName"`
	ModName    string   `json:"modName"`
	ModVersion string   `json:"modVersion"`
	Conflicts  []string `json:"conflicts,omitempty"`
	SentAt     int64    `json:"sentAt"`
}

// Valid reports whether the handshake parsed well enough to act on.
func (h Handshake) Valid() bool {
	return h.SenderID != ""
}

// EncodeHandshake renders a handshake payload.
func EncodeHandshake(msg Handshake) ([]byte, error) {
	msg.Ver = Version
	msg.Type = TypeHandshake
	return json.Marshal(msg)
}

// DecodeHandshake converts a raw payload into a handshake. It never fails: a
// malformed payload yields the zero value, whose empty SenderID marks it as
// unusable.
func DecodeHandshake(payload []byte) Handshake {
	var msg Handshake
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Handshake{}
	}
	if msg.Type != "" && msg.Type != TypeHandshake {
		return Handshake{}
	}
	return msg
}

// LockUpdate broadcasts that a container was locked or released by a peer.
type LockUpdate struct {
	Ver    int      `json:"ver"`
	Type   string   `json:"type"`
	Pos    Position `json:"pos"`
	Unlock bool     `json:"unlock"`
	SentAt int64    `json:"sentAt"`
}

// EncodeLockUpdate renders a lock update payload.
func EncodeLockUpdate(msg LockUpdate) ([]byte, error) {
	msg.Ver = Version
	msg.Type = TypeLockUpdate
	return json.Marshal(msg)
}

// DecodeLockUpdate converts a raw payload into a lock update. Malformed input
// yields InvalidPosition and a zero timestamp so callers can discard the
// message instead of crashing on it.
func DecodeLockUpdate(payload []byte) LockUpdate {
	var msg LockUpdate
	if err := json.Unmarshal(payload, &msg); err != nil {
		return LockUpdate{Pos: InvalidPosition}
	}
	if msg.Type != "" && msg.Type != TypeLockUpdate {
		return LockUpdate{Pos: InvalidPosition}
	}
	return msg
}

// ConfigSnapshot carries the host's full mod settings. Receivers apply it
// wholesale; individual fields are opaque to the protocol layer.
type ConfigSnapshot struct {
	Ver      int                  `json:"ver"`
	Type     string               `json:"type"`
	Settings settings.ModSettings `json:"settings"`
	SentAt   int64                `json:"sentAt"`
}

// EncodeConfigSnapshot renders a settings snapshot payload.
func EncodeConfigSnapshot(msg ConfigSnapshot) ([]byte, error) {
	msg.Ver = Version
	msg.Type = TypeConfigSnapshot
	return json.Marshal(msg)
}

// DecodeConfigSnapshot converts a raw payload into a settings snapshot.
// Malformed input yields default settings and a zero timestamp.
func DecodeConfigSnapshot(payload []byte) ConfigSnapshot {
	var msg ConfigSnapshot
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ConfigSnapshot{Settings: settings.Default()}
	}
	if msg.Type != "" && msg.Type != TypeConfigSnapshot {
		return ConfigSnapshot{Settings: settings.Default()}
	}
	return msg
}
