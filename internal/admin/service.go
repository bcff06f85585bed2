package admin

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ticketline/internal/logger"
	"ticketline/internal/models"
)

// DBLayer is the store surface the console orchestrates. Note there is no
// payment/entry state write here: those belong to the lifecycle engine.
type DBLayer interface {
	CountTickets() (int, error)
	CountPaidTickets() (int, error)
	CountRedeemedTickets() (int, error)
	CountSubscribers() (int, error)
	ListTickets() ([]models.Ticket, error)
	ListTicketsByEvent(eventCode string) ([]models.Ticket, error)
	ListPaidTickets() ([]models.Ticket, error)
	ListSubscribers() ([]models.Subscriber, error)
	ActiveEvent() (string, error)
	SetActiveEvent(code string) error
	GetEventConfig(code string) (*models.EventConfig, error)
	UpsertEventConfig(cfg models.EventConfig) error
	ScannerAdmins() ([]int64, error)
	AddScannerAdmin(id int64) error
	RemoveScannerAdmin(id int64) error
	DeleteAllTickets() error
}

// Sender delivers broadcast messages and reads channel stats.
type Sender interface {
	BuyerText(buyerID int64, text string) error
	ChatMemberCount(chatID string) (int, error)
}

// Service is the admin console: reporting, export, event switching,
// configuration, broadcast, and the two-tier scanner authorization.
type Service struct {
	DB             DBLayer
	Notify         Sender
	SuperAdmins    []int64
	Password       string
	ChannelID      string
	BroadcastDelay time.Duration
	Log            *logger.Logger
}

func NewService(db DBLayer, notify Sender, superAdmins []int64, password, channelID string, broadcastDelay time.Duration, log *logger.Logger) *Service {
	return &Service{
		DB:             db,
		Notify:         notify,
		SuperAdmins:    superAdmins,
		Password:       password,
		ChannelID:      channelID,
		BroadcastDelay: broadcastDelay,
		Log:            log,
	}
}

// IsSuperAdmin reports whether id is a static full administrator.
func (s *Service) IsSuperAdmin(id int64) bool {
	for _, a := range s.SuperAdmins {
		if a == id {
			return true
		}
	}
	return false
}

// CanScan reports whether id may operate the scanner: super admins always,
// plus the dynamic allow-list in the metadata store.
func (s *Service) CanScan(id int64) (bool, error) {
	if s.IsSuperAdmin(id) {
		return true, nil
	}
	ids, err := s.DB.ScannerAdmins()
	if err != nil {
		return false, err
	}
	for _, a := range ids {
		if a == id {
			return true, nil
		}
	}
	return false, nil
}

// CheckPassword gates destructive and event-switching commands. Plain
// equality against a shared secret.
func (s *Service) CheckPassword(password string) bool {
	return s.Password != "" && password == s.Password
}

type Report struct {
	ActiveEvent    string
	Total          int
	Paid           int
	Redeemed       int
	Subscribers    int
	ChannelMembers int
}

func (s *Service) Report() (*Report, error) {
	total, err := s.DB.CountTickets()
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	paid, err := s.DB.CountPaidTickets()
	if err != nil {
		return nil, fmt.Errorf("count paid: %w", err)
	}
	redeemed, err := s.DB.CountRedeemedTickets()
	if err != nil {
		return nil, fmt.Errorf("count redeemed: %w", err)
	}
	subs, err := s.DB.CountSubscribers()
	if err != nil {
		return nil, fmt.Errorf("count subscribers: %w", err)
	}
	event, err := s.DB.ActiveEvent()
	if err != nil {
		return nil, fmt.Errorf("active event: %w", err)
	}
	report := &Report{ActiveEvent: event, Total: total, Paid: paid, Redeemed: redeemed, Subscribers: subs}

	// The channel count comes from the chat platform, not our store. An
	// unreachable API degrades the report instead of failing it.
	if s.ChannelID != "" {
		members, err := s.Notify.ChatMemberCount(s.ChannelID)
		if err != nil {
			s.Log.Warn("ADMIN", fmt.Sprintf("channel member count unavailable: %v", err))
		} else {
			report.ChannelMembers = members
		}
	}
	return report, nil
}

func (s *Service) ListTickets() ([]models.Ticket, error) {
	return s.DB.ListTickets()
}

func (s *Service) ListPaid() ([]models.Ticket, error) {
	return s.DB.ListPaidTickets()
}

// ExportCSV dumps rows for one event, or for the active event when code is
// empty. Exporting while sales are closed yields only the header: the "none"
// sentinel owns no rows. Historical events remain exportable by their code.
func (s *Service) ExportCSV(eventCode string) ([]byte, error) {
	if eventCode == "" {
		active, err := s.DB.ActiveEvent()
		if err != nil {
			return nil, fmt.Errorf("active event: %w", err)
		}
		eventCode = active
	}
	tickets, err := s.DB.ListTicketsByEvent(eventCode)
	if err != nil {
		return nil, fmt.Errorf("list tickets for %s: %w", eventCode, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "buyer_id", "display_name", "event_code", "kind", "payment_state", "entry_state", "purchase_date"})
	for _, t := range tickets {
		_ = w.Write([]string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.BuyerID, 10),
			t.DisplayName,
			t.EventCode,
			t.Kind,
			t.PaymentState,
			t.EntryState,
			t.PurchaseDate.Format("2006-01-02"),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SwitchEvent repoints sales at a new event code. Existing rows keep their
// own event_code; nothing is touched retroactively.
func (s *Service) SwitchEvent(password, code string) (bool, error) {
	if !s.CheckPassword(password) {
		return false, nil
	}
	if err := s.DB.SetActiveEvent(code); err != nil {
		return false, fmt.Errorf("set active event: %w", err)
	}
	s.Log.Info("ADMIN", fmt.Sprintf("active event switched to %s", code))
	return true, nil
}

// CloseSales parks the active-event pointer on the sentinel.
func (s *Service) CloseSales(password string) (bool, error) {
	return s.SwitchEvent(password, models.EventCodeNone)
}

// ConfigureEvent writes an event's sales configuration. The multi-turn
// collection of the fields happens at the chat layer; this applies the
// result.
func (s *Service) ConfigureEvent(cfg models.EventConfig) error {
	if cfg.Code == "" || cfg.Code == models.EventCodeNone {
		return fmt.Errorf("invalid event code %q", cfg.Code)
	}
	if err := s.DB.UpsertEventConfig(cfg); err != nil {
		return fmt.Errorf("upsert event config: %w", err)
	}
	s.Log.Info("ADMIN", fmt.Sprintf("event %s configured (bundle limit %d, %d promo codes)", cfg.Code, cfg.BundleLimit, len(cfg.PromoCodes)))
	return nil
}

type BroadcastResult struct {
	RunID   string
	Sent    int
	Skipped int
}

// Broadcast fans text out to every subscriber. Per-send failures (blocked
// bot, dead chat) are tallied as skipped and never abort the run; sends are
// paced by BroadcastDelay.
func (s *Service) Broadcast(text string) (*BroadcastResult, error) {
	subs, err := s.DB.ListSubscribers()
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	result := &BroadcastResult{RunID: uuid.NewString()}
	for _, sub := range subs {
		if err := s.Notify.BuyerText(sub.BuyerID, text); err != nil {
			result.Skipped++
		} else {
			result.Sent++
		}
		time.Sleep(s.BroadcastDelay)
	}
	s.Log.Info("BROADCAST", fmt.Sprintf("run %s: sent %d, skipped %d", result.RunID, result.Sent, result.Skipped))
	return result, nil
}

func (s *Service) AddScanner(id int64) error {
	return s.DB.AddScannerAdmin(id)
}

// RemoveScanner drops id from the dynamic allow-list. Super admins are not
// in that list and therefore cannot be removed.
func (s *Service) RemoveScanner(id int64) error {
	return s.DB.RemoveScannerAdmin(id)
}

func (s *Service) ListScanners() ([]int64, error) {
	return s.DB.ScannerAdmins()
}

// WipeTickets clears the purchase table for a between-event reset.
func (s *Service) WipeTickets(password string) (bool, error) {
	if !s.CheckPassword(password) {
		return false, nil
	}
	if err := s.DB.DeleteAllTickets(); err != nil {
		return false, fmt.Errorf("wipe tickets: %w", err)
	}
	s.Log.Warn("ADMIN", "ticket table wiped")
	return true, nil
}
