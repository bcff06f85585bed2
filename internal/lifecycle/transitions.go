package lifecycle

import "ticketline/internal/models"

// paymentTransition is one allowed edge in the payment state machine.
type paymentTransition struct {
	from string
	to   string
}

// Every payment-state write in this package goes through paymentAllowed.
// pending_review -> paid has no reverse edge here; only the administrative
// override bypasses the table.
var paymentTransitions = []paymentTransition{
	{from: models.PaymentUnpaid, to: models.PaymentPendingReview},   // claim
	{from: models.PaymentRejected, to: models.PaymentPendingReview}, // re-claim
	{from: models.PaymentPendingReview, to: models.PaymentPaid},     // approve
	{from: models.PaymentPendingReview, to: models.PaymentRejected}, // reject
	{from: models.PaymentRejected, to: models.PaymentUnpaid},        // expiry reset
}

func paymentAllowed(from, to string) bool {
	for _, t := range paymentTransitions {
		if t.from == from && t.to == to {
			return true
		}
	}
	return false
}
