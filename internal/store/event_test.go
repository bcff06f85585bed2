package store_test

import (
	"testing"

	"ticketline/internal/models"
)

func TestEventConfigUpsert(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetEventConfig("SUMMER25")
	if err != nil {
		t.Fatalf("Failed to get missing config: %v", err)
	}
	if got != nil {
		t.Fatal("Expected nil for an unconfigured event")
	}

	cfg := models.EventConfig{
		Code:        "SUMMER25",
		Title:       "Summer Party",
		BundleLimit: 5,
		Prices:      map[string]float64{"single": 500, "bundle": 800},
		PromoCodes:  []string{"SUN", "SEA"},
	}
	if err := db.UpsertEventConfig(cfg); err != nil {
		t.Fatalf("Failed to insert config: %v", err)
	}

	got, err = db.GetEventConfig("SUMMER25")
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}
	if got.Title != "Summer Party" || got.BundleLimit != 5 {
		t.Errorf("Unexpected config: %+v", got)
	}
	if !got.HasPromoCode("SUN") {
		t.Error("Expected SUN promo code to be recognized")
	}
	if got.HasPromoCode("MOON") {
		t.Error("Did not expect MOON promo code to be recognized")
	}
}

func TestUpsertKeepsReservationCounter(t *testing.T) {
	db := setupTestDB(t)

	cfg := models.EventConfig{Code: "SUMMER25", Title: "v1", BundleLimit: 5}
	if err := db.UpsertEventConfig(cfg); err != nil {
		t.Fatalf("Failed to insert config: %v", err)
	}
	ok, err := db.ReserveBundleSlot("SUMMER25")
	if err != nil || !ok {
		t.Fatalf("Expected reservation to succeed, ok=%v err=%v", ok, err)
	}

	cfg.Title = "v2"
	if err := db.UpsertEventConfig(cfg); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	got, err := db.GetEventConfig("SUMMER25")
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}
	if got.Title != "v2" {
		t.Errorf("Expected updated title, got %s", got.Title)
	}
	if got.BundleReserved != 1 {
		t.Errorf("Expected reservation counter to survive the update, got %d", got.BundleReserved)
	}
}

func TestActiveEvent(t *testing.T) {
	db := setupTestDB(t)

	code, err := db.ActiveEvent()
	if err != nil {
		t.Fatalf("Failed to read active event: %v", err)
	}
	if code != models.EventCodeNone {
		t.Errorf("Expected %q before any event is set, got %q", models.EventCodeNone, code)
	}

	if err := db.SetActiveEvent("SUMMER25"); err != nil {
		t.Fatalf("Failed to set active event: %v", err)
	}
	code, err = db.ActiveEvent()
	if err != nil {
		t.Fatalf("Failed to read active event: %v", err)
	}
	if code != "SUMMER25" {
		t.Errorf("Expected SUMMER25, got %q", code)
	}

	if err := db.SetActiveEvent(models.EventCodeNone); err != nil {
		t.Fatalf("Failed to close sales: %v", err)
	}
	code, err = db.ActiveEvent()
	if err != nil {
		t.Fatalf("Failed to read active event: %v", err)
	}
	if code != models.EventCodeNone {
		t.Errorf("Expected sales closed, got %q", code)
	}
}

func TestReserveBundleSlotExhaustsLimit(t *testing.T) {
	db := setupTestDB(t)

	cfg := models.EventConfig{Code: "SUMMER25", BundleLimit: 2}
	if err := db.UpsertEventConfig(cfg); err != nil {
		t.Fatalf("Failed to insert config: %v", err)
	}

	for i := 0; i < 2; i++ {
		ok, err := db.ReserveBundleSlot("SUMMER25")
		if err != nil {
			t.Fatalf("Reservation %d failed: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("Expected reservation %d to succeed", i+1)
		}
	}

	ok, err := db.ReserveBundleSlot("SUMMER25")
	if err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}
	if ok {
		t.Error("Expected reservation beyond the limit to be denied")
	}

	if err := db.ReleaseBundleSlot("SUMMER25"); err != nil {
		t.Fatalf("Failed to release slot: %v", err)
	}
	ok, err = db.ReserveBundleSlot("SUMMER25")
	if err != nil || !ok {
		t.Fatalf("Expected reservation after release to succeed, ok=%v err=%v", ok, err)
	}
}

func TestReserveBundleSlotWithoutLimit(t *testing.T) {
	db := setupTestDB(t)

	// Unconfigured event: no row to increment.
	ok, err := db.ReserveBundleSlot("GHOST")
	if err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}
	if ok {
		t.Error("Expected reservation for an unconfigured event to be denied")
	}

	// Configured with the promo turned off.
	if err := db.UpsertEventConfig(models.EventConfig{Code: "NOPROMO", BundleLimit: 0}); err != nil {
		t.Fatalf("Failed to insert config: %v", err)
	}
	ok, err = db.ReserveBundleSlot("NOPROMO")
	if err != nil {
		t.Fatalf("Reservation failed: %v", err)
	}
	if ok {
		t.Error("Expected reservation with a zero limit to be denied")
	}
}

func TestReleaseBundleSlotFloorsAtZero(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertEventConfig(models.EventConfig{Code: "SUMMER25", BundleLimit: 3}); err != nil {
		t.Fatalf("Failed to insert config: %v", err)
	}

	if err := db.ReleaseBundleSlot("SUMMER25"); err != nil {
		t.Fatalf("Release on an empty counter failed: %v", err)
	}

	got, err := db.GetEventConfig("SUMMER25")
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}
	if got.BundleReserved != 0 {
		t.Errorf("Expected counter to stay at zero, got %d", got.BundleReserved)
	}
}
