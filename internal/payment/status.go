package payment

import "harmoni-service/internal/processor"

// Intent lifecycle statuses as reported by the processor. Local state keeps
// the processor's vocabulary; the only distinction that matters here is
// pending vs terminal.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusRequiresAction        = "requires_action"
	StatusProcessing            = "processing"
	StatusRequiresCapture       = "requires_capture"
	StatusSucceeded             = "succeeded"
	StatusCanceled              = "canceled"
	StatusFailed                = "failed"
)

const (
	eventTypePrefix       = "payment_intent."
	eventTypeSucceeded    = "payment_intent.succeeded"
	eventTypeFailed       = "payment_intent.payment_failed"
	eventTypeCanceled     = "payment_intent.canceled"
)

// IsTerminal reports whether a status admits no further transition. Once a
// payment is terminal, redelivered events must not produce side effects.
func IsTerminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// DeriveStatus maps a webhook event to the local status. Stripe reports a
// failed intent with status requires_payment_method (ready for retry), so
// the failed and canceled terminals are derived from the event type rather
// than the intent's own status.
func DeriveStatus(ev *processor.Event) string {
	switch ev.Type {
	case eventTypeSucceeded:
		return StatusSucceeded
	case eventTypeFailed:
		return StatusFailed
	case eventTypeCanceled:
		return StatusCanceled
	}
	return ev.IntentStatus
}
