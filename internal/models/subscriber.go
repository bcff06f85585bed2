package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Subscriber is a fan-out recipient, upserted on every inbound interaction.
type Subscriber struct {
	bun.BaseModel `bun:"table:subscribers"`

	BuyerID     int64     `bun:"buyer_id,pk" json:"buyer_id"`
	DisplayName string    `bun:"display_name" json:"display_name"`
	LastSeen    time.Time `bun:"last_seen,notnull" json:"last_seen"`
}

// PromoAttempt records a buyer who was denied the bundle promo because
// inventory was exhausted. Append-only; Notified flips when the buyer has
// been told a slot freed up.
type PromoAttempt struct {
	bun.BaseModel `bun:"table:promo_attempts"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	BuyerID   int64     `bun:"buyer_id,notnull" json:"buyer_id"`
	EventCode string    `bun:"event_code,notnull" json:"event_code"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	Notified  bool      `bun:"notified,notnull,default:false" json:"notified"`
}

// Meta is arbitrary key/value state: the durable active-event pointer and the
// scanner allow-list live here.
type Meta struct {
	bun.BaseModel `bun:"table:meta"`

	Key   string `bun:"key,pk" json:"key"`
	Value string `bun:"value" json:"value"`
}
