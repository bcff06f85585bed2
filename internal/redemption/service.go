package redemption

import (
	"fmt"

	"ticketline/internal/lifecycle"
	"ticketline/internal/logger"
	"ticketline/internal/models"
	"ticketline/internal/qr"
)

// OutcomeInvalid is returned for payloads that do not parse at all. It is an
// expected operator-facing outcome, not an error.
const OutcomeInvalid lifecycle.RedeemOutcome = "invalid"

// DBLayer is the store slice the scanner needs for the legacy fallback.
type DBLayer interface {
	LatestTicketForBuyer(buyerID int64) (*models.Ticket, error)
}

// Service validates scanned or deep-linked payloads and drives the redeem
// transition. The payload grammar lives in the qr package, next to the token
// builder that produces it. A bare number that matches no row is retried as a
// legacy buyer id, redeeming that buyer's latest row.
type Service struct {
	Engine *lifecycle.Engine
	DB     DBLayer
	Log    *logger.Logger
}

func NewService(engine *lifecycle.Engine, db DBLayer, log *logger.Logger) *Service {
	return &Service{Engine: engine, DB: db, Log: log}
}

// Result is what the scanner operator sees.
type Result struct {
	Outcome lifecycle.RedeemOutcome
	Ticket  *models.Ticket
	Message string
}

func (s *Service) Scan(payload string) (Result, error) {
	rowID, bare, ok := qr.Parse(payload)
	if !ok {
		s.Log.LogScan("invalid", payload)
		return Result{Outcome: OutcomeInvalid, Message: "Invalid code."}, nil
	}

	outcome, ticket, err := s.Engine.Redeem(rowID)
	if err != nil {
		return Result{}, err
	}

	// A bare numeric payload that matched no row may be a legacy token
	// carrying a buyer id instead of a row id.
	if outcome == lifecycle.RedeemNotFound && bare {
		if latest, lerr := s.DB.LatestTicketForBuyer(rowID); lerr == nil && latest != nil {
			outcome, ticket, err = s.Engine.Redeem(latest.ID)
			if err != nil {
				return Result{}, err
			}
		}
	}

	s.Log.LogScan(string(outcome), payload)
	return Result{Outcome: outcome, Ticket: ticket, Message: message(outcome, ticket)}, nil
}

func message(outcome lifecycle.RedeemOutcome, ticket *models.Ticket) string {
	kind := "-"
	event := "-"
	if ticket != nil {
		kind = ticket.Kind
		if ticket.EventCode != "" {
			event = ticket.EventCode
		}
	}
	switch outcome {
	case lifecycle.RedeemActivated:
		return fmt.Sprintf("Entry granted!\nKind: %s\nEvent: %s", kind, event)
	case lifecycle.RedeemAlreadyUsed:
		return fmt.Sprintf("Ticket already used.\nKind: %s", kind)
	case lifecycle.RedeemNotPaid:
		return fmt.Sprintf("Ticket not paid.\nKind: %s", kind)
	case lifecycle.RedeemNotFound:
		return "Ticket not found."
	default:
		return "Invalid code."
	}
}
