package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"ticketline/internal/models"
)

const metaScannerAdmins = "scanner_admins"

// UpsertSubscriber records that a buyer interacted with the bot just now.
func (d *DB) UpsertSubscriber(buyerID int64, displayName string) error {
	sub := models.Subscriber{
		BuyerID:     buyerID,
		DisplayName: displayName,
		LastSeen:    time.Now(),
	}
	_, err := d.Bun.NewInsert().
		Model(&sub).
		On("CONFLICT (buyer_id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(context.Background())
	return err
}

func (d *DB) ListSubscribers() ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := d.Bun.NewSelect().
		Model(&subs).
		Order("buyer_id").
		Scan(context.Background())
	return subs, err
}

func (d *DB) CountSubscribers() (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Subscriber)(nil)).
		Count(context.Background())
}

// AddPromoAttempt logs a buyer denied the bundle promo on exhausted
// inventory. The log is the waitlist for re-notification.
func (d *DB) AddPromoAttempt(buyerID int64, eventCode string) error {
	attempt := models.PromoAttempt{
		BuyerID:   buyerID,
		EventCode: eventCode,
		CreatedAt: time.Now(),
	}
	_, err := d.Bun.NewInsert().Model(&attempt).Exec(context.Background())
	return err
}

func (d *DB) UnnotifiedPromoAttempts(eventCode string) ([]models.PromoAttempt, error) {
	var attempts []models.PromoAttempt
	err := d.Bun.NewSelect().
		Model(&attempts).
		Where("event_code = ?", eventCode).
		Where("notified = ?", false).
		Order("id").
		Scan(context.Background())
	return attempts, err
}

func (d *DB) MarkPromoAttemptNotified(id int64) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.PromoAttempt)(nil)).
		Set("notified = ?", true).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

// GetMeta returns the value for key, empty string when unset.
func (d *DB) GetMeta(key string) (string, error) {
	var m models.Meta
	err := d.Bun.NewSelect().
		Model(&m).
		Where("key = ?", key).
		Limit(1).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Value, nil
}

func (d *DB) SetMeta(key, value string) error {
	m := models.Meta{Key: key, Value: value}
	_, err := d.Bun.NewInsert().
		Model(&m).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(context.Background())
	return err
}

// ScannerAdmins returns the dynamic scanner allow-list kept in meta. The
// static super-admin list lives in config and is merged by the admin service.
func (d *DB) ScannerAdmins() ([]int64, error) {
	raw, err := d.GetMeta(metaScannerAdmins)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *DB) AddScannerAdmin(id int64) error {
	ids, err := d.ScannerAdmins()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return d.saveScannerAdmins(ids)
}

func (d *DB) RemoveScannerAdmin(id int64) error {
	ids, err := d.ScannerAdmins()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return d.saveScannerAdmins(kept)
}

func (d *DB) saveScannerAdmins(ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return d.SetMeta(metaScannerAdmins, string(raw))
}
