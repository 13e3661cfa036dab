package network

import (
	"context"

	"craft-and-carry/modsync/logging"
)

const (
	// EventLatencyWarning is emitted when end-to-end latency exceeds the budget
	// for a message kind.
	EventLatencyWarning logging.EventType = "network.latency_warning"
	// EventSendFailed is emitted when an outbound payload could not be written.
	EventSendFailed logging.EventType = "network.send_failed"
	// EventMalformedMessage is emitted when an inbound payload failed to parse
	// and was discarded.
	EventMalformedMessage logging.EventType = "network.malformed_message"
)

// LatencyPayload carries observed versus budgeted latency in milliseconds.
type LatencyPayload struct {
	MessageType string `json:"messageType"`
	ObservedMs  int64  `json:"observedMs"`
	BudgetMs    int64  `json:"budgetMs"`
}

// SendFailedPayload carries the failed destination and error text.
type SendFailedPayload struct {
	ConnectionID string `json:"connectionId,omitempty"`
	Error        string `json:"error"`
}

// MalformedPayload carries what little is known about a discarded message.
type MalformedPayload struct {
	MessageType string `json:"messageType,omitempty"`
	Bytes       int    `json:"bytes"`
}

// LatencyWarning publishes an end-to-end latency budget overrun.
func LatencyWarning(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload LatencyPayload) {
	publish(ctx, pub, EventLatencyWarning, actor, logging.SeverityWarn, payload)
}

// SendFailed publishes a transport write failure.
func SendFailed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload SendFailedPayload) {
	publish(ctx, pub, EventSendFailed, actor, logging.SeverityWarn, payload)
}

// MalformedMessage publishes a discarded unparseable payload.
func MalformedMessage(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload MalformedPayload) {
	publish(ctx, pub, EventMalformedMessage, actor, logging.SeverityWarn, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, actor logging.EntityRef, severity logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
