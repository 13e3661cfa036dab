package locks

import (
	"context"

	"craft-and-carry/modsync/logging"
)

const (
	// EventUpdateApplied is emitted when a lock update wins against the table.
	EventUpdateApplied logging.EventType = "locks.update_applied"
	// EventUpdateStale is emitted when a late update loses the timestamp race.
	EventUpdateStale logging.EventType = "locks.update_stale"
	// EventBroadcastSuppressed is emitted when an outbound update is withheld
	// from a peer whose connection is still stabilizing post-handshake.
	EventBroadcastSuppressed logging.EventType = "locks.broadcast_suppressed"
	// EventBroadcastRetry is emitted when a failed lock broadcast is retried.
	EventBroadcastRetry logging.EventType = "locks.broadcast_retry"
)

// UpdatePayload carries lock reconciliation details.
type UpdatePayload struct {
	Timestamp int64 `json:"timestamp"`
	Previous  int64 `json:"previous,omitempty"`
	Locked    bool  `json:"locked"`
}

// UpdateApplied publishes a winning lock update.
func UpdateApplied(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload UpdatePayload) {
	publish(ctx, pub, EventUpdateApplied, actor, logging.SeverityDebug, payload)
}

// UpdateStale publishes a discarded late update. Losing the race is an
// expected outcome, not an error.
func UpdateStale(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload UpdatePayload) {
	publish(ctx, pub, EventUpdateStale, actor, logging.SeverityDebug, payload)
}

// BroadcastSuppressed publishes a withheld outbound update.
func BroadcastSuppressed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, EventBroadcastSuppressed, actor, logging.SeverityDebug, nil)
}

// BroadcastRetry publishes a second attempt at a failed lock broadcast.
func BroadcastRetry(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, EventBroadcastRetry, actor, logging.SeverityWarn, nil)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, actor logging.EntityRef, severity logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryLocks,
		Payload:  payload,
	})
}
