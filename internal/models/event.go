package models

import (
	"github.com/uptrace/bun"
)

// EventCodeNone is the active-event sentinel meaning sales are closed.
const EventCodeNone = "none"

// EventConfig holds per-event sales configuration. BundleLimit == 0 means the
// bundle promo is not configured for the event, which turns it off rather
// than making it unlimited. BundleReserved is the slot counter behind the
// conditional-increment reservation; it never exceeds BundleLimit.
type EventConfig struct {
	bun.BaseModel `bun:"table:event_configs"`

	Code           string             `bun:"code,pk" json:"code"`
	Title          string             `bun:"title" json:"title"`
	BundleLimit    int                `bun:"bundle_limit,notnull,default:0" json:"bundle_limit"`
	BundleReserved int                `bun:"bundle_reserved,notnull,default:0" json:"bundle_reserved"`
	Prices         map[string]float64 `bun:"prices,type:jsonb" json:"prices"`
	PromoCodes     []string           `bun:"promo_codes,type:jsonb" json:"promo_codes"`
}

// HasPromoCode reports whether code is valid for this event. Codes are
// compared case-insensitively by storing and matching upper-case.
func (e *EventConfig) HasPromoCode(code string) bool {
	for _, c := range e.PromoCodes {
		if c == code {
			return true
		}
	}
	return false
}
