package lifecycle

import (
	"database/sql"
	"errors"
	"fmt"

	"ticketline/internal/logger"
	"ticketline/internal/models"
	"ticketline/internal/qr"
)

// DBLayer is the slice of the store the engine needs.
type DBLayer interface {
	CreateTicket(ticket models.Ticket) (int64, error)
	GetTicketByID(id int64) (*models.Ticket, error)
	SetPaymentState(id int64, state string) error
	SetEntryState(id int64, state string) error
	SetSlotHeld(id int64, held bool) error
	ActiveEvent() (string, error)
	ReserveBundleSlot(eventCode string) (bool, error)
	ReleaseBundleSlot(eventCode string) error
	AddPromoAttempt(buyerID int64, eventCode string) error
}

// Notifier delivers outcomes to buyers and administrators. Delivery failures
// are expected (blocked bots) and are logged, never propagated.
type Notifier interface {
	BuyerText(buyerID int64, text string) error
	BuyerRepay(buyerID, rowID int64, text string) error
	BuyerTicket(buyerID int64, png []byte, caption string) error
	AdminReview(ticket models.Ticket) error
}

// Publisher streams lifecycle events for downstream consumers.
type Publisher interface {
	PublishTicketEvent(eventType string, ticket models.Ticket) error
	PublishSlotFreed(eventCode string, rowID int64) error
}

// ExpiryScheduler arms the unresolved-claim timer for a row. Scheduling again
// supersedes any earlier timer for the same row.
type ExpiryScheduler interface {
	Schedule(rowID int64) error
}

type CreateStatus string

const (
	CreateOK          CreateStatus = "ok"
	CreateSalesClosed CreateStatus = "sales_closed"
	CreateSoldOut     CreateStatus = "sold_out"
)

type ClaimStatus string

const (
	ClaimOK          ClaimStatus = "ok"
	ClaimAlreadyPaid ClaimStatus = "already_paid"
	ClaimUnderReview ClaimStatus = "under_review"
	ClaimSoldOut     ClaimStatus = "sold_out"
	ClaimNotFound    ClaimStatus = "not_found"
)

type DecisionStatus string

const (
	DecisionOK         DecisionStatus = "ok"
	DecisionNotFound   DecisionStatus = "not_found"
	DecisionWrongState DecisionStatus = "wrong_state"
)

type RedeemOutcome string

const (
	RedeemActivated   RedeemOutcome = "activated"
	RedeemAlreadyUsed RedeemOutcome = "already_used"
	RedeemNotPaid     RedeemOutcome = "not_paid"
	RedeemNotFound    RedeemOutcome = "not_found"
)

// Engine owns every payment_state and entry_state write. The admin console
// and the scanner go through it; nothing else touches those columns.
type Engine struct {
	DB     DBLayer
	Notify Notifier
	Events Publisher
	Expiry ExpiryScheduler
	QR     *qr.Generator
	Log    *logger.Logger
}

func NewEngine(db DBLayer, notify Notifier, events Publisher, expiry ExpiryScheduler, log *logger.Logger) *Engine {
	return &Engine{
		DB:     db,
		Notify: notify,
		Events: events,
		Expiry: expiry,
		QR:     qr.NewGenerator(),
		Log:    log,
	}
}

// loadTicket separates a missing row from a store failure. Only the former
// maps to a not_found outcome; everything else surfaces to the caller.
func (e *Engine) loadTicket(rowID int64) (*models.Ticket, bool, error) {
	ticket, err := e.DB.GetTicketByID(rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load ticket #%d: %w", rowID, err)
	}
	return ticket, true, nil
}

// Create opens a new purchase row for the active event. Bundle purchases must
// first win an atomic slot reservation; a denial is logged to the waitlist.
func (e *Engine) Create(buyerID int64, displayName, kind string) (int64, CreateStatus, error) {
	eventCode, err := e.DB.ActiveEvent()
	if err != nil {
		return 0, "", fmt.Errorf("read active event: %w", err)
	}
	if eventCode == models.EventCodeNone {
		return 0, CreateSalesClosed, nil
	}

	slotHeld := false
	if kind == models.KindBundle {
		ok, err := e.DB.ReserveBundleSlot(eventCode)
		if err != nil {
			return 0, "", fmt.Errorf("reserve bundle slot: %w", err)
		}
		if !ok {
			if err := e.DB.AddPromoAttempt(buyerID, eventCode); err != nil {
				e.Log.Error("TICKET", fmt.Sprintf("failed to log promo attempt for buyer %d: %v", buyerID, err))
			}
			return 0, CreateSoldOut, nil
		}
		slotHeld = true
	}

	ticket := models.Ticket{
		BuyerID:      buyerID,
		DisplayName:  displayName,
		EventCode:    eventCode,
		Kind:         kind,
		PaymentState: models.PaymentUnpaid,
		EntryState:   models.EntryUnredeemed,
		SlotHeld:     slotHeld,
	}
	rowID, err := e.DB.CreateTicket(ticket)
	if err != nil {
		if slotHeld {
			_ = e.DB.ReleaseBundleSlot(eventCode)
		}
		return 0, "", fmt.Errorf("create ticket: %w", err)
	}
	ticket.ID = rowID

	// The timer starts at creation so a row that is never claimed still
	// lapses and gives its slot back.
	if err := e.Expiry.Schedule(rowID); err != nil {
		e.Log.Error("EXPIRY", fmt.Sprintf("failed to schedule expiry for #%d: %v", rowID, err))
	}

	e.Log.LogTicket("CREATE", rowID, fmt.Sprintf("kind=%s event=%s buyer=%d", kind, eventCode, buyerID))
	e.publish("created", ticket)
	return rowID, CreateOK, nil
}

// ClaimPayment moves a row to pending_review and hands it to the admins.
func (e *Engine) ClaimPayment(rowID int64) (ClaimStatus, error) {
	ticket, found, err := e.loadTicket(rowID)
	if err != nil {
		return "", err
	}
	if !found {
		return ClaimNotFound, nil
	}

	switch ticket.PaymentState {
	case models.PaymentPaid:
		return ClaimAlreadyPaid, nil
	case models.PaymentPendingReview:
		return ClaimUnderReview, nil
	}
	if !paymentAllowed(ticket.PaymentState, models.PaymentPendingReview) {
		return ClaimUnderReview, nil
	}

	// A bundle row whose slot was freed by an earlier expiry has to win it
	// back before entering review, or the claim would bypass the limit.
	if ticket.Kind == models.KindBundle && !ticket.SlotHeld {
		ok, err := e.DB.ReserveBundleSlot(ticket.EventCode)
		if err != nil {
			return "", fmt.Errorf("reserve bundle slot: %w", err)
		}
		if !ok {
			if err := e.DB.AddPromoAttempt(ticket.BuyerID, ticket.EventCode); err != nil {
				e.Log.Error("TICKET", fmt.Sprintf("failed to log promo attempt for buyer %d: %v", ticket.BuyerID, err))
			}
			return ClaimSoldOut, nil
		}
		if err := e.DB.SetSlotHeld(rowID, true); err != nil {
			_ = e.DB.ReleaseBundleSlot(ticket.EventCode)
			return "", fmt.Errorf("mark slot held: %w", err)
		}
		ticket.SlotHeld = true
	}

	if err := e.DB.SetPaymentState(rowID, models.PaymentPendingReview); err != nil {
		return "", fmt.Errorf("set pending_review: %w", err)
	}
	ticket.PaymentState = models.PaymentPendingReview

	if err := e.Expiry.Schedule(rowID); err != nil {
		e.Log.Error("EXPIRY", fmt.Sprintf("failed to schedule expiry for #%d: %v", rowID, err))
	}
	if err := e.Notify.AdminReview(*ticket); err != nil {
		e.Log.Error("NOTIFY", fmt.Sprintf("admin review notification for #%d failed: %v", rowID, err))
	}

	e.Log.LogTicket("CLAIM", rowID, "payment claim forwarded for review")
	e.publish("claimed", *ticket)
	return ClaimOK, nil
}

// Approve confirms payment, issues the QR ticket, and sends it to the buyer.
func (e *Engine) Approve(rowID int64) (DecisionStatus, error) {
	ticket, found, err := e.loadTicket(rowID)
	if err != nil {
		return "", err
	}
	if !found {
		return DecisionNotFound, nil
	}
	if !paymentAllowed(ticket.PaymentState, models.PaymentPaid) {
		return DecisionWrongState, nil
	}

	if err := e.DB.SetPaymentState(rowID, models.PaymentPaid); err != nil {
		return "", fmt.Errorf("set paid: %w", err)
	}
	ticket.PaymentState = models.PaymentPaid

	png, err := e.QR.PNG(rowID, ticket.Kind)
	if err != nil {
		return "", fmt.Errorf("generate QR for #%d: %w", rowID, err)
	}
	caption := fmt.Sprintf("Payment confirmed!\nTicket #%d\nKind: %s\nEvent: %s", rowID, ticket.Kind, ticket.EventCode)
	if err := e.Notify.BuyerTicket(ticket.BuyerID, png, caption); err != nil {
		e.Log.Error("NOTIFY", fmt.Sprintf("QR delivery for #%d failed: %v", rowID, err))
	}

	e.Log.LogTicket("APPROVE", rowID, "payment approved, QR issued")
	e.publish("approved", *ticket)
	return DecisionOK, nil
}

// Reject sends the row back to the buyer with a re-pay option and restarts
// the expiry timer.
func (e *Engine) Reject(rowID int64) (DecisionStatus, error) {
	ticket, found, err := e.loadTicket(rowID)
	if err != nil {
		return "", err
	}
	if !found {
		return DecisionNotFound, nil
	}
	if !paymentAllowed(ticket.PaymentState, models.PaymentRejected) {
		return DecisionWrongState, nil
	}

	if err := e.DB.SetPaymentState(rowID, models.PaymentRejected); err != nil {
		return "", fmt.Errorf("set rejected: %w", err)
	}
	ticket.PaymentState = models.PaymentRejected

	if err := e.Expiry.Schedule(rowID); err != nil {
		e.Log.Error("EXPIRY", fmt.Sprintf("failed to schedule expiry for #%d: %v", rowID, err))
	}
	text := "Payment was not confirmed.\nCheck the transfer or contact an administrator.\nOnce fixed, press \"I paid\" again."
	if err := e.Notify.BuyerRepay(ticket.BuyerID, rowID, text); err != nil {
		e.Log.Error("NOTIFY", fmt.Sprintf("rejection notice for #%d failed: %v", rowID, err))
	}

	e.Log.LogTicket("REJECT", rowID, "payment rejected, buyer notified")
	e.publish("rejected", *ticket)
	return DecisionOK, nil
}

// HandleExpiry fires when a row's claim timer lapses. The timer may be stale:
// the row can have been paid, superseded, or already reset since it was
// armed, so current state is re-read and anything past unpaid/rejected is a
// no-op.
func (e *Engine) HandleExpiry(rowID int64) error {
	ticket, found, err := e.loadTicket(rowID)
	if err != nil {
		return err
	}
	if !found {
		e.Log.Warn("EXPIRY", fmt.Sprintf("expired timer for unknown row #%d", rowID))
		return nil
	}

	switch ticket.PaymentState {
	case models.PaymentUnpaid, models.PaymentRejected:
	default:
		e.Log.LogTicket("EXPIRE", rowID, fmt.Sprintf("no-op, state already %s", ticket.PaymentState))
		return nil
	}

	if ticket.PaymentState == models.PaymentRejected {
		if err := e.DB.SetPaymentState(rowID, models.PaymentUnpaid); err != nil {
			return fmt.Errorf("reset to unpaid: %w", err)
		}
		ticket.PaymentState = models.PaymentUnpaid
	}

	if err := e.Notify.BuyerText(ticket.BuyerID, "Your ticket reservation lapsed. Pick a ticket again with /start."); err != nil {
		e.Log.Error("NOTIFY", fmt.Sprintf("expiry notice for #%d failed: %v", rowID, err))
	}

	// Release only rows that still own a slot. A stale timer firing on a
	// row that already gave its slot up must not touch the counter.
	if ticket.Kind == models.KindBundle && ticket.SlotHeld {
		if err := e.DB.ReleaseBundleSlot(ticket.EventCode); err != nil {
			e.Log.Error("TICKET", fmt.Sprintf("failed to release bundle slot for #%d: %v", rowID, err))
		} else {
			if err := e.DB.SetSlotHeld(rowID, false); err != nil {
				e.Log.Error("TICKET", fmt.Sprintf("failed to clear slot flag for #%d: %v", rowID, err))
			}
			if e.Events != nil {
				if err := e.Events.PublishSlotFreed(ticket.EventCode, rowID); err != nil {
					e.Log.Error("KAFKA", fmt.Sprintf("slot-freed publish for #%d failed: %v", rowID, err))
				}
			}
		}
	}

	e.Log.LogTicket("EXPIRE", rowID, "reservation expired, row reset to unpaid")
	e.publish("expired", *ticket)
	return nil
}

// Redeem consumes a ticket at the door exactly once. Both failure outcomes
// are reported states, not errors, and never change the row.
func (e *Engine) Redeem(rowID int64) (RedeemOutcome, *models.Ticket, error) {
	ticket, found, err := e.loadTicket(rowID)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return RedeemNotFound, nil, nil
	}
	if ticket.PaymentState != models.PaymentPaid {
		return RedeemNotPaid, ticket, nil
	}
	if ticket.EntryState == models.EntryRedeemed {
		return RedeemAlreadyUsed, ticket, nil
	}

	if err := e.DB.SetEntryState(rowID, models.EntryRedeemed); err != nil {
		return "", nil, fmt.Errorf("set redeemed: %w", err)
	}
	ticket.EntryState = models.EntryRedeemed

	e.Log.LogTicket("REDEEM", rowID, "entry granted")
	e.publish("redeemed", *ticket)
	return RedeemActivated, ticket, nil
}

// Override forces a payment state, bypassing the transition table. Admin use
// only; the console gates it behind the shared password.
func (e *Engine) Override(rowID int64, state string) error {
	switch state {
	case models.PaymentUnpaid, models.PaymentPendingReview, models.PaymentPaid, models.PaymentRejected:
	default:
		return fmt.Errorf("unknown payment state %q", state)
	}
	if _, err := e.DB.GetTicketByID(rowID); err != nil {
		return fmt.Errorf("ticket #%d not found: %w", rowID, err)
	}
	if err := e.DB.SetPaymentState(rowID, state); err != nil {
		return fmt.Errorf("override payment state: %w", err)
	}
	e.Log.LogTicket("OVERRIDE", rowID, fmt.Sprintf("payment state forced to %s", state))
	return nil
}

func (e *Engine) publish(eventType string, ticket models.Ticket) {
	if e.Events == nil {
		return
	}
	if err := e.Events.PublishTicketEvent(eventType, ticket); err != nil {
		e.Log.Error("KAFKA", fmt.Sprintf("publish %s for #%d failed: %v", eventType, ticket.ID, err))
	}
}
