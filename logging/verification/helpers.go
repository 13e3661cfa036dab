package verification

import (
	"context"

	"craft-and-carry/modsync/logging"
)

const (
	// EventPeerConnected is emitted the instant a peer attaches at transport level.
	EventPeerConnected logging.EventType = "verification.peer_connected"
	// EventPeerVerified is emitted when a peer's handshake proves mod presence.
	EventPeerVerified logging.EventType = "verification.peer_verified"
	// EventDuplicateHandshake is emitted when a retransmitted handshake is ignored.
	EventDuplicateHandshake logging.EventType = "verification.duplicate_handshake"
	// EventHandshakeTimeout is emitted when a peer's wait expires without a handshake.
	EventHandshakeTimeout logging.EventType = "verification.handshake_timeout"
	// EventPeerDisconnected is emitted when a peer leaves the session.
	EventPeerDisconnected logging.EventType = "verification.peer_disconnected"
	// EventSessionUnlocked is emitted when every connected peer is verified.
	EventSessionUnlocked logging.EventType = "verification.session_unlocked"
	// EventConflictsReported is emitted when a peer's handshake lists conflicting mods.
	EventConflictsReported logging.EventType = "verification.conflicts_reported"
	// EventClientConfirmed is emitted when the host acknowledges this client.
	EventClientConfirmed logging.EventType = "verification.client_confirmed"
	// EventClientRetry is emitted when the client resends its handshake.
	EventClientRetry logging.EventType = "verification.client_retry"
	// EventClientTimedOut is emitted when the host never acknowledged this client.
	EventClientTimedOut logging.EventType = "verification.client_timed_out"
)

// PeerPayload carries peer lifecycle details.
type PeerPayload struct {
	ConnectionID string `json:"connectionId,omitempty"`
	Name         string `json:"name,omitempty"`
	Unverified   int64  `json:"unverified"`
}

// ConflictsPayload carries the mod names a peer flagged as conflicting.
type ConflictsPayload struct {
	Conflicts []string `json:"conflicts"`
}

// RetryPayload carries client resend progress.
type RetryPayload struct {
	Attempt   int   `json:"attempt"`
	ElapsedMs int64 `json:"elapsedMs"`
}

// PeerConnected publishes the pessimistic lock taken on transport connect.
func PeerConnected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PeerPayload) {
	publish(ctx, pub, EventPeerConnected, actor, logging.SeverityInfo, payload)
}

// PeerVerified publishes a successful mod-presence proof.
func PeerVerified(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PeerPayload) {
	publish(ctx, pub, EventPeerVerified, actor, logging.SeverityInfo, payload)
}

// DuplicateHandshake publishes a debug record for an ignored retransmission.
func DuplicateHandshake(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, EventDuplicateHandshake, actor, logging.SeverityDebug, nil)
}

// HandshakeTimeout publishes the violation taken against a silent peer.
func HandshakeTimeout(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PeerPayload) {
	publish(ctx, pub, EventHandshakeTimeout, actor, logging.SeverityWarn, payload)
}

// PeerDisconnected publishes a peer's removal from the session.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PeerPayload) {
	publish(ctx, pub, EventPeerDisconnected, actor, logging.SeverityInfo, payload)
}

// SessionUnlocked publishes the transition back to full mod function.
func SessionUnlocked(ctx context.Context, pub logging.Publisher) {
	publish(ctx, pub, EventSessionUnlocked, logging.EntityRef{Kind: logging.EntityKindSession}, logging.SeverityInfo, nil)
}

// ConflictsReported publishes the conflicting mods a peer detected locally.
func ConflictsReported(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConflictsPayload) {
	publish(ctx, pub, EventConflictsReported, actor, logging.SeverityWarn, payload)
}

// ClientConfirmed publishes receipt of the host's acknowledgement.
func ClientConfirmed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, EventClientConfirmed, actor, logging.SeverityInfo, nil)
}

// ClientRetry publishes a handshake resend attempt.
func ClientRetry(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RetryPayload) {
	publish(ctx, pub, EventClientRetry, actor, logging.SeverityDebug, payload)
}

// ClientTimedOut publishes the terminal no-response state.
func ClientTimedOut(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RetryPayload) {
	publish(ctx, pub, EventClientTimedOut, actor, logging.SeverityWarn, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, actor logging.EntityRef, severity logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryVerification,
		Payload:  payload,
	})
}
