package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Payment states of a ticket row. Transitions between them are owned by the
// lifecycle service; nothing else writes this column.
const (
	PaymentUnpaid        = "unpaid"
	PaymentPendingReview = "pending_review"
	PaymentPaid          = "paid"
	PaymentRejected      = "rejected"
)

// Entry states. Redeemed is terminal.
const (
	EntryUnredeemed = "unredeemed"
	EntryRedeemed   = "redeemed"
)

// Well-known ticket kinds. Kind is a free-form tag: a promo code entered by
// the buyer is stored verbatim as the kind of the row it created.
const (
	KindSingle = "single"
	KindBundle = "bundle"
)

// Ticket is one purchase. A buyer may own any number of rows in any mix of
// states; "latest" for a buyer means highest id, not newest purchase_date,
// since purchase_date has day granularity.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	BuyerID      int64     `bun:"buyer_id,notnull" json:"buyer_id"`
	DisplayName  string    `bun:"display_name" json:"display_name"`
	EventCode    string    `bun:"event_code,notnull" json:"event_code"`
	Kind         string    `bun:"kind,notnull" json:"kind"`
	PaymentState string    `bun:"payment_state,notnull" json:"payment_state"`
	EntryState   string    `bun:"entry_state,notnull" json:"entry_state"`
	PurchaseDate time.Time `bun:"purchase_date,notnull" json:"purchase_date"`
	// SlotHeld marks that this row currently owns one bundle_reserved unit.
	// Only meaningful for bundle rows; release on expiry checks it so a row
	// whose slot was already freed can never decrement the counter again.
	SlotHeld bool `bun:"slot_held,notnull,default:false" json:"slot_held"`
}
