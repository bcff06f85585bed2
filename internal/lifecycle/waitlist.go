package lifecycle

import (
	"fmt"

	"ticketline/internal/logger"
	"ticketline/internal/models"
)

// WaitlistDB is the store slice the waitlist notifier needs.
type WaitlistDB interface {
	UnnotifiedPromoAttempts(eventCode string) ([]models.PromoAttempt, error)
	MarkPromoAttemptNotified(id int64) error
}

// Waitlist re-notifies buyers who were denied the bundle promo once a slot
// frees up. Driven by the slot-freed event stream.
type Waitlist struct {
	DB     WaitlistDB
	Notify Notifier
	Log    *logger.Logger
}

func NewWaitlist(db WaitlistDB, notify Notifier, log *logger.Logger) *Waitlist {
	return &Waitlist{DB: db, Notify: notify, Log: log}
}

// HandleSlotFreed tells every un-notified waitlisted buyer for the event that
// bundle inventory is available again. Delivery failures skip the buyer but
// still mark the attempt, so a blocked bot cannot wedge the waitlist.
func (w *Waitlist) HandleSlotFreed(eventCode string) {
	attempts, err := w.DB.UnnotifiedPromoAttempts(eventCode)
	if err != nil {
		w.Log.Error("WAITLIST", fmt.Sprintf("failed to load waitlist for %s: %v", eventCode, err))
		return
	}
	if len(attempts) == 0 {
		return
	}

	text := "Good news: a \"1+1\" bundle ticket just became available again. Grab it with /start."
	notified := 0
	for _, attempt := range attempts {
		if err := w.Notify.BuyerText(attempt.BuyerID, text); err != nil {
			w.Log.Warn("WAITLIST", fmt.Sprintf("skipping buyer %d: %v", attempt.BuyerID, err))
		} else {
			notified++
		}
		if err := w.DB.MarkPromoAttemptNotified(attempt.ID); err != nil {
			w.Log.Error("WAITLIST", fmt.Sprintf("failed to mark attempt %d: %v", attempt.ID, err))
		}
	}
	w.Log.Info("WAITLIST", fmt.Sprintf("slot freed for %s, notified %d of %d waitlisted buyers", eventCode, notified, len(attempts)))
}
