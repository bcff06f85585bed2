package store

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ticketline/internal/models"
)

// DB is the durable ticket store. All reads are point-in-time at the
// database's default isolation; the only operation that needs anything
// stronger is the bundle slot reservation, which is a single conditional
// UPDATE (see event.go).
type DB struct {
	Bun *bun.DB
}

// CreateTicket inserts a new purchase row and returns its id.
func (d *DB) CreateTicket(ticket models.Ticket) (int64, error) {
	if ticket.PurchaseDate.IsZero() {
		ticket.PurchaseDate = time.Now().Truncate(24 * time.Hour)
	}
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(context.Background())
	if err != nil {
		return 0, err
	}
	return ticket.ID, nil
}

func (d *DB) GetTicketByID(id int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// LatestTicketForBuyer returns the buyer's most recent row, highest id first.
func (d *DB) LatestTicketForBuyer(buyerID int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("buyer_id = ?", buyerID).
		Order("id DESC").
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) SetPaymentState(id int64, state string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("payment_state = ?", state).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

func (d *DB) SetEntryState(id int64, state string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("entry_state = ?", state).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

func (d *DB) SetSlotHeld(id int64, held bool) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("slot_held = ?", held).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

// CountKindInStates counts rows of one kind for an event whose payment state
// is in the given set.
func (d *DB) CountKindInStates(eventCode, kind string, states []string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_code = ?", eventCode).
		Where("kind = ?", kind).
		Where("payment_state IN (?)", bun.In(states)).
		Count(context.Background())
}

func (d *DB) ListTickets() ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Order("id DESC").
		Scan(context.Background())
	return tickets, err
}

func (d *DB) ListTicketsByEvent(eventCode string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("event_code = ?", eventCode).
		Order("id DESC").
		Scan(context.Background())
	return tickets, err
}

func (d *DB) ListPaidTickets() ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("payment_state = ?", models.PaymentPaid).
		Order("id DESC").
		Scan(context.Background())
	return tickets, err
}

func (d *DB) CountTickets() (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Count(context.Background())
}

func (d *DB) CountPaidTickets() (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("payment_state = ?", models.PaymentPaid).
		Count(context.Background())
}

func (d *DB) CountRedeemedTickets() (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("entry_state = ?", models.EntryRedeemed).
		Count(context.Background())
}

// DeleteAllTickets wipes the purchase table. Password-gated at the admin
// console; exists for between-event resets.
func (d *DB) DeleteAllTickets() error {
	_, err := d.Bun.NewDelete().
		Model((*models.Ticket)(nil)).
		Where("1 = 1").
		Exec(context.Background())
	return err
}
