package store

import (
	"context"
	"database/sql"
	"errors"

	"ticketline/internal/models"
)

const metaActiveEvent = "active_event"

// GetEventConfig returns the configuration for an event code, or nil when the
// event was never configured.
func (d *DB) GetEventConfig(code string) (*models.EventConfig, error) {
	var cfg models.EventConfig
	err := d.Bun.NewSelect().
		Model(&cfg).
		Where("code = ?", code).
		Limit(1).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertEventConfig replaces the configuration for cfg.Code. Configs are not
// versioned; overwriting discards prior values. The reservation counter is
// deliberately left untouched on update so re-configuring an event mid-sale
// does not hand out already-taken slots again.
func (d *DB) UpsertEventConfig(cfg models.EventConfig) error {
	_, err := d.Bun.NewInsert().
		Model(&cfg).
		On("CONFLICT (code) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("bundle_limit = EXCLUDED.bundle_limit").
		Set("prices = EXCLUDED.prices").
		Set("promo_codes = EXCLUDED.promo_codes").
		Exec(context.Background())
	return err
}

// ActiveEvent returns the durable active-event pointer. When nothing was ever
// set, sales are closed ("none").
func (d *DB) ActiveEvent() (string, error) {
	code, err := d.GetMeta(metaActiveEvent)
	if err != nil {
		return "", err
	}
	if code == "" {
		return models.EventCodeNone, nil
	}
	return code, nil
}

func (d *DB) SetActiveEvent(code string) error {
	return d.SetMeta(metaActiveEvent, code)
}

// ReserveBundleSlot takes one bundle-promo slot for the event. The
// conditional increment makes the check-and-take atomic: two concurrent
// claims against the last slot cannot both succeed. Returns false when the
// event has no configured limit (promo off) or the limit is exhausted.
func (d *DB) ReserveBundleSlot(code string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.EventConfig)(nil)).
		Set("bundle_reserved = bundle_reserved + 1").
		Where("code = ?", code).
		Where("bundle_limit > 0").
		Where("bundle_reserved < bundle_limit").
		Exec(context.Background())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseBundleSlot frees one slot, with a floor of zero.
func (d *DB) ReleaseBundleSlot(code string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.EventConfig)(nil)).
		Set("bundle_reserved = bundle_reserved - 1").
		Where("code = ?", code).
		Where("bundle_reserved > 0").
		Exec(context.Background())
	return err
}
