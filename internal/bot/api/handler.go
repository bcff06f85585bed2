package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ticketline/internal/admin"
	"ticketline/internal/bot"
	"ticketline/internal/lifecycle"
	"ticketline/internal/logger"
	"ticketline/internal/models"
	"ticketline/internal/redemption"
)

// StoreLayer is the store slice the dispatch layer reads directly.
type StoreLayer interface {
	UpsertSubscriber(buyerID int64, displayName string) error
	ActiveEvent() (string, error)
	GetEventConfig(code string) (*models.EventConfig, error)
}

// Handler receives chat-platform webhook updates and scanner posts, and
// routes them into the engine, the scanner, and the admin console. All
// domain decisions live below; this layer parses, authorizes, and renders.
type Handler struct {
	Engine   *lifecycle.Engine
	Scanner  *redemption.Service
	Admin    *admin.Service
	Sessions *bot.Sessions
	Client   *bot.Client
	DB       StoreLayer
	Log      *logger.Logger
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Webhook)
	r.Post("/scan", h.Scan)
}

// Webhook ingests one platform update. Unexpected failures are logged and
// answered with an apology; the response is always 200 so the platform does
// not re-deliver updates we already acted on.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var update bot.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid update payload", http.StatusBadRequest)
		return
	}

	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(update.Message)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

type scanRequest struct {
	OperatorID int64  `json:"operator_id"`
	Payload    string `json:"payload"`
}

type scanResponse struct {
	Outcome string `json:"outcome"`
	Message string `json:"message"`
	RowID   int64  `json:"row_id,omitempty"`
}

// Scan serves the web-app scanner. The operator must be on the scanner
// allow-list (or a full admin).
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid scan payload", http.StatusBadRequest)
		return
	}

	allowed, err := h.Admin.CanScan(req.OperatorID)
	if err != nil {
		h.Log.Error("SCAN", fmt.Sprintf("allow-list lookup failed: %v", err))
		http.Error(w, "scanner check failed", http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, "not a scanner operator", http.StatusForbidden)
		return
	}

	result, err := h.Scanner.Scan(req.Payload)
	if err != nil {
		h.Log.Error("SCAN", fmt.Sprintf("scan failed: %v", err))
		http.Error(w, "scan failed", http.StatusInternalServerError)
		return
	}

	resp := scanResponse{Outcome: string(result.Outcome), Message: result.Message}
	if result.Ticket != nil {
		resp.RowID = result.Ticket.ID
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// --- message dispatch ---

func (h *Handler) handleMessage(m *bot.Message) {
	if m.From == nil {
		return
	}
	userID := m.From.ID
	if err := h.DB.UpsertSubscriber(userID, m.From.DisplayName()); err != nil {
		h.Log.Error("STORE", fmt.Sprintf("subscriber upsert for %d failed: %v", userID, err))
	}

	if m.WebAppData != nil {
		h.scanFromChat(userID, m.WebAppData.Data)
		return
	}

	text := strings.TrimSpace(m.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/start"))
		if arg != "" {
			// Deep-linked token: same grammar as a scan, same
			// authorization.
			h.scanFromChat(userID, arg)
			return
		}
		h.Sessions.Reset(userID)
		h.sendWelcome(userID)
	case text == "/help":
		h.reply(userID, "Questions? Message the administrator.")
	case strings.HasPrefix(text, "QR:"):
		h.scanFromChat(userID, text)
	case strings.HasPrefix(text, "/"):
		h.handleAdminCommand(userID, text)
	default:
		h.handleModeInput(userID, text)
	}
}

func (h *Handler) scanFromChat(userID int64, payload string) {
	allowed, err := h.Admin.CanScan(userID)
	if err != nil {
		h.Log.Error("SCAN", fmt.Sprintf("allow-list lookup failed: %v", err))
		h.apologize(userID)
		return
	}
	if !allowed {
		h.reply(userID, "You are not authorized to scan tickets.")
		return
	}
	result, err := h.Scanner.Scan(payload)
	if err != nil {
		h.Log.Error("SCAN", fmt.Sprintf("scan failed: %v", err))
		h.apologize(userID)
		return
	}
	h.reply(userID, result.Message)
}

func (h *Handler) sendWelcome(userID int64) {
	kb := &bot.InlineKeyboardMarkup{InlineKeyboard: [][]bot.InlineKeyboardButton{
		{{Text: "Buy a ticket", CallbackData: "menu"}},
	}}
	if err := h.Client.SendMessage(userID, "Hey! Welcome.\nPick what you want to do:", kb); err != nil {
		h.Log.Warn("NOTIFY", fmt.Sprintf("welcome to %d failed: %v", userID, err))
	}
}

// --- callback dispatch ---

func (h *Handler) handleCallback(cb *bot.CallbackQuery) {
	if cb.From == nil {
		return
	}
	userID := cb.From.ID
	if err := h.DB.UpsertSubscriber(userID, cb.From.DisplayName()); err != nil {
		h.Log.Error("STORE", fmt.Sprintf("subscriber upsert for %d failed: %v", userID, err))
	}

	data := cb.Data
	switch {
	case data == "menu":
		h.sendTicketMenu(userID)
		h.ack(cb, "")
	case data == "buy:single":
		h.startPurchase(cb.From, models.KindSingle)
		h.ack(cb, "")
	case data == "buy:bundle":
		h.startPurchase(cb.From, models.KindBundle)
		h.ack(cb, "")
	case data == "promo":
		h.Sessions.Update(userID, func(s *bot.Session) { s.Mode = bot.ModeAwaitPromoCode })
		kb := &bot.InlineKeyboardMarkup{InlineKeyboard: [][]bot.InlineKeyboardButton{
			{{Text: "Cancel", CallbackData: "promo_cancel"}},
		}}
		_ = h.Client.SendMessage(userID, "Send your promo code in one message:", kb)
		h.ack(cb, "")
	case data == "promo_cancel":
		h.Sessions.Reset(userID)
		h.reply(userID, "Cancelled. Back to the menu: /start")
		h.ack(cb, "")
	case strings.HasPrefix(data, "paid:"):
		h.handlePaidClaim(cb, strings.TrimPrefix(data, "paid:"))
	case strings.HasPrefix(data, "approve:"):
		h.handleDecision(cb, strings.TrimPrefix(data, "approve:"), true)
	case strings.HasPrefix(data, "reject:"):
		h.handleDecision(cb, strings.TrimPrefix(data, "reject:"), false)
	default:
		h.ack(cb, "")
	}
}

func (h *Handler) sendTicketMenu(userID int64) {
	kb := &bot.InlineKeyboardMarkup{InlineKeyboard: [][]bot.InlineKeyboardButton{
		{{Text: "1+1 bundle", CallbackData: "buy:bundle"}},
		{{Text: "Single ticket", CallbackData: "buy:single"}},
		{{Text: "I have a promo code", CallbackData: "promo"}},
	}}
	if err := h.Client.SendMessage(userID, "Pick a ticket kind:", kb); err != nil {
		h.Log.Warn("NOTIFY", fmt.Sprintf("menu to %d failed: %v", userID, err))
	}
}

// startPurchase creates the row and presents payment controls.
func (h *Handler) startPurchase(from *bot.User, kind string) {
	rowID, status, err := h.Engine.Create(from.ID, from.DisplayName(), kind)
	if err != nil {
		h.Log.Error("TICKET", fmt.Sprintf("create for buyer %d failed: %v", from.ID, err))
		h.apologize(from.ID)
		return
	}
	switch status {
	case lifecycle.CreateSalesClosed:
		h.reply(from.ID, "There is no active event right now. Follow the channel for the next one!")
	case lifecycle.CreateSoldOut:
		h.reply(from.ID, "The 1+1 bundle is sold out for this event. We'll message you if a slot frees up.")
	case lifecycle.CreateOK:
		text := fmt.Sprintf("You picked: %s\n\nAfter paying, press \"I paid\".\nPut your handle in the payment comment.", kind)
		if err := h.Client.BuyerRepay(from.ID, rowID, text); err != nil {
			h.Log.Warn("NOTIFY", fmt.Sprintf("payment prompt to %d failed: %v", from.ID, err))
		}
	}
}

func (h *Handler) handlePaidClaim(cb *bot.CallbackQuery, rawID string) {
	rowID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		h.ack(cb, "")
		return
	}
	status, err := h.Engine.ClaimPayment(rowID)
	if err != nil {
		h.Log.Error("TICKET", fmt.Sprintf("claim for #%d failed: %v", rowID, err))
		h.ack(cb, "Something went wrong, try again.")
		return
	}
	switch status {
	case lifecycle.ClaimOK:
		h.ack(cb, "")
		h.reply(cb.From.ID, "Your confirmation went to the administrator. Hold tight.")
	case lifecycle.ClaimAlreadyPaid:
		h.alert(cb, "You already paid. The QR code was sent earlier.")
	case lifecycle.ClaimUnderReview:
		h.alert(cb, "Your payment is already under review. Please wait.")
	case lifecycle.ClaimSoldOut:
		h.alert(cb, "The 1+1 bundle sold out while your reservation was lapsed. We'll message you if a slot frees up.")
	case lifecycle.ClaimNotFound:
		h.alert(cb, "Purchase not found.")
	}
}

func (h *Handler) handleDecision(cb *bot.CallbackQuery, rawID string, approve bool) {
	if !h.Admin.IsSuperAdmin(cb.From.ID) {
		h.alert(cb, "You are not an administrator.")
		return
	}
	rowID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		h.ack(cb, "")
		return
	}

	var status lifecycle.DecisionStatus
	if approve {
		status, err = h.Engine.Approve(rowID)
	} else {
		status, err = h.Engine.Reject(rowID)
	}
	if err != nil {
		h.Log.Error("TICKET", fmt.Sprintf("decision for #%d failed: %v", rowID, err))
		h.ack(cb, "Something went wrong, try again.")
		return
	}

	switch status {
	case lifecycle.DecisionOK:
		h.ack(cb, "")
		if approve {
			h.reply(cb.From.ID, fmt.Sprintf("Confirmed. QR for ticket #%d sent to the buyer.", rowID))
		} else {
			h.reply(cb.From.ID, fmt.Sprintf("Payment for ticket #%d rejected. Buyer notified.", rowID))
		}
	case lifecycle.DecisionNotFound:
		h.alert(cb, "Purchase not found.")
	case lifecycle.DecisionWrongState:
		h.alert(cb, "This claim was already resolved.")
	}
}

// --- admin commands ---

func (h *Handler) handleAdminCommand(userID int64, text string) {
	if !h.Admin.IsSuperAdmin(userID) {
		h.reply(userID, "You don't have access to this command.")
		return
	}

	fields := strings.Fields(text)
	cmd := fields[0]
	switch cmd {
	case "/report":
		h.sendReport(userID)
	case "/users":
		h.sendTicketList(userID, false)
	case "/paid_users":
		h.sendTicketList(userID, true)
	case "/export":
		code := ""
		if len(fields) > 1 {
			code = fields[1]
		}
		h.sendExport(userID, code)
	case "/event":
		h.askPassword(userID, "event")
	case "/close":
		h.askPassword(userID, "close")
	case "/wipe":
		h.askPassword(userID, "wipe")
	case "/broadcast":
		h.askPassword(userID, "broadcast")
	case "/scanners":
		h.sendScannerList(userID)
	case "/add_scanner", "/remove_scanner":
		if len(fields) < 2 {
			h.reply(userID, fmt.Sprintf("Usage: %s <user id>", cmd))
			return
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			h.reply(userID, "That doesn't look like a user id.")
			return
		}
		if cmd == "/add_scanner" {
			err = h.Admin.AddScanner(id)
		} else {
			err = h.Admin.RemoveScanner(id)
		}
		if err != nil {
			h.Log.Error("ADMIN", fmt.Sprintf("scanner list update failed: %v", err))
			h.apologize(userID)
			return
		}
		h.reply(userID, "Scanner list updated.")
	default:
		h.reply(userID, "Unknown command.")
	}
}

func (h *Handler) sendReport(userID int64) {
	report, err := h.Admin.Report()
	if err != nil {
		h.Log.Error("ADMIN", fmt.Sprintf("report failed: %v", err))
		h.apologize(userID)
		return
	}
	text := fmt.Sprintf(
		"Stats:\nActive event: %s\nPurchases: %d\nPaid: %d\nArrived: %d\nSubscribers: %d",
		report.ActiveEvent, report.Total, report.Paid, report.Redeemed, report.Subscribers)
	if report.ChannelMembers > 0 {
		text += fmt.Sprintf("\nChannel members: %d", report.ChannelMembers)
	}
	h.reply(userID, text)
}

func (h *Handler) sendTicketList(userID int64, paidOnly bool) {
	var (
		tickets []models.Ticket
		err     error
	)
	if paidOnly {
		tickets, err = h.Admin.ListPaid()
	} else {
		tickets, err = h.Admin.ListTickets()
	}
	if err != nil {
		h.Log.Error("ADMIN", fmt.Sprintf("ticket list failed: %v", err))
		h.apologize(userID)
		return
	}
	if len(tickets) == 0 {
		h.reply(userID, "Nothing here yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Purchases:\n\n")
	for _, t := range tickets {
		name := t.DisplayName
		if name == "" {
			name = fmt.Sprintf("(id: %d)", t.BuyerID)
		}
		fmt.Fprintf(&b, "#%d %s — %s / %s\n", t.ID, name, t.PaymentState, t.EntryState)
	}
	h.reply(userID, b.String())
}

func (h *Handler) sendExport(userID int64, code string) {
	data, err := h.Admin.ExportCSV(code)
	if err != nil {
		h.Log.Error("ADMIN", fmt.Sprintf("export failed: %v", err))
		h.apologize(userID)
		return
	}
	// CSV travels as a text message; the chat layer has no document upload
	// in this client, and event exports stay in the hundreds of rows.
	h.reply(userID, string(data))
}

func (h *Handler) sendScannerList(userID int64) {
	ids, err := h.Admin.ListScanners()
	if err != nil {
		h.Log.Error("ADMIN", fmt.Sprintf("scanner list failed: %v", err))
		h.apologize(userID)
		return
	}
	if len(ids) == 0 {
		h.reply(userID, "No dynamic scanner operators configured.")
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	h.reply(userID, "Scanner operators: "+strings.Join(parts, ", "))
}

func (h *Handler) askPassword(userID int64, pending string) {
	h.Sessions.Update(userID, func(s *bot.Session) {
		*s = bot.Session{Mode: bot.ModeAwaitPassword, Pending: pending}
	})
	h.reply(userID, "Enter the admin password:")
}

// --- free-text modes ---

func (h *Handler) handleModeInput(userID int64, text string) {
	switch h.Sessions.Mode(userID) {
	case bot.ModeAwaitPromoCode:
		h.handlePromoCode(userID, text)
	case bot.ModeAwaitPassword:
		h.handlePassword(userID, text)
	case bot.ModeAwaitEventCode:
		code := strings.ToLower(strings.Join(strings.Fields(text), "_"))
		h.Sessions.Update(userID, func(s *bot.Session) {
			s.Draft.Code = code
			s.Mode = bot.ModeAwaitEventTitle
		})
		h.reply(userID, "Event title?")
	case bot.ModeAwaitEventTitle:
		h.Sessions.Update(userID, func(s *bot.Session) {
			s.Draft.Title = strings.TrimSpace(text)
			s.Mode = bot.ModeAwaitBundleLimit
		})
		h.reply(userID, "1+1 bundle limit? (0 turns the promo off)")
	case bot.ModeAwaitBundleLimit:
		limit, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || limit < 0 {
			h.reply(userID, "Send a non-negative number.")
			return
		}
		h.Sessions.Update(userID, func(s *bot.Session) {
			s.Draft.BundleLimit = limit
			s.Mode = bot.ModeAwaitPrices
		})
		h.reply(userID, "Prices, comma separated (e.g. single=25, bundle=40):")
	case bot.ModeAwaitPrices:
		prices, err := parsePrices(text)
		if err != nil {
			h.reply(userID, "Could not parse that. Format: single=25, bundle=40")
			return
		}
		h.Sessions.Update(userID, func(s *bot.Session) {
			s.Draft.Prices = prices
			s.Mode = bot.ModeAwaitPromoList
		})
		h.reply(userID, "Promo codes, comma separated (or \"-\" for none):")
	case bot.ModeAwaitPromoList:
		h.finishEventSetup(userID, text)
	case bot.ModeAwaitBroadcastText:
		h.startBroadcast(userID, text)
	default:
		// Free text outside any input mode is ignored, like any chat bot.
	}
}

func (h *Handler) handlePromoCode(userID int64, text string) {
	code := strings.ToUpper(strings.TrimSpace(text))
	eventCode, err := h.DB.ActiveEvent()
	if err != nil {
		h.Log.Error("STORE", fmt.Sprintf("active event lookup failed: %v", err))
		h.apologize(userID)
		return
	}
	var cfg *models.EventConfig
	if eventCode != models.EventCodeNone {
		cfg, err = h.DB.GetEventConfig(eventCode)
		if err != nil {
			h.Log.Error("STORE", fmt.Sprintf("event config lookup failed: %v", err))
			h.apologize(userID)
			return
		}
	}
	if cfg == nil || !cfg.HasPromoCode(code) {
		h.reply(userID, "Invalid promo code. Try again or press /start.")
		return
	}
	h.Sessions.Reset(userID)
	h.startPurchase(&bot.User{ID: userID}, code)
}

func (h *Handler) handlePassword(userID int64, text string) {
	sess := h.Sessions.Get(userID)
	pending := sess.Pending
	if !h.Admin.CheckPassword(text) {
		h.Sessions.Reset(userID)
		h.reply(userID, "Wrong password. Access denied.")
		return
	}

	switch pending {
	case "event":
		h.Sessions.Update(userID, func(s *bot.Session) {
			s.Mode = bot.ModeAwaitEventCode
			s.Password = text
			s.Draft = models.EventConfig{}
		})
		h.reply(userID, "Event code?")
	case "close":
		if _, err := h.Admin.CloseSales(text); err != nil {
			h.Log.Error("ADMIN", fmt.Sprintf("close sales failed: %v", err))
			h.apologize(userID)
		} else {
			h.reply(userID, "Sales closed. No active event.")
		}
		h.Sessions.Reset(userID)
	case "wipe":
		if _, err := h.Admin.WipeTickets(text); err != nil {
			h.Log.Error("ADMIN", fmt.Sprintf("wipe failed: %v", err))
			h.apologize(userID)
		} else {
			h.reply(userID, "Ticket table cleared.")
		}
		h.Sessions.Reset(userID)
	case "broadcast":
		h.Sessions.Update(userID, func(s *bot.Session) { s.Mode = bot.ModeAwaitBroadcastText })
		h.reply(userID, "Send the broadcast text:")
	default:
		h.Sessions.Reset(userID)
	}
}

func (h *Handler) finishEventSetup(userID int64, text string) {
	sess := h.Sessions.Get(userID)
	draft := sess.Draft
	password := sess.Password
	draft.PromoCodes = parseCodes(text)
	h.Sessions.Reset(userID)

	if err := h.Admin.ConfigureEvent(draft); err != nil {
		h.Log.Error("ADMIN", fmt.Sprintf("event setup failed: %v", err))
		h.apologize(userID)
		return
	}
	if _, err := h.Admin.SwitchEvent(password, draft.Code); err != nil {
		h.Log.Error("ADMIN", fmt.Sprintf("event switch failed: %v", err))
		h.apologize(userID)
		return
	}
	h.reply(userID, fmt.Sprintf(
		"Event %q is live.\nBundle limit: %d\nPromo codes: %d\nSales are open.",
		draft.Code, draft.BundleLimit, len(draft.PromoCodes)))
}

func (h *Handler) startBroadcast(userID int64, text string) {
	h.Sessions.Reset(userID)
	h.reply(userID, "Broadcast started.")
	go func() {
		result, err := h.Admin.Broadcast(text)
		if err != nil {
			h.Log.Error("BROADCAST", fmt.Sprintf("broadcast failed: %v", err))
			h.apologize(userID)
			return
		}
		h.reply(userID, fmt.Sprintf("Broadcast %s done: %d sent, %d skipped.", result.RunID, result.Sent, result.Skipped))
	}()
}

// --- small helpers ---

func (h *Handler) reply(chatID int64, text string) {
	if err := h.Client.SendMessage(chatID, text, nil); err != nil {
		h.Log.Warn("NOTIFY", fmt.Sprintf("message to %d failed: %v", chatID, err))
	}
}

func (h *Handler) apologize(chatID int64) {
	h.reply(chatID, "Something went wrong. Please try again later.")
}

func (h *Handler) ack(cb *bot.CallbackQuery, text string) {
	if err := h.Client.AnswerCallback(cb.ID, text, false); err != nil {
		h.Log.Warn("NOTIFY", fmt.Sprintf("callback ack failed: %v", err))
	}
}

func (h *Handler) alert(cb *bot.CallbackQuery, text string) {
	if err := h.Client.AnswerCallback(cb.ID, text, true); err != nil {
		h.Log.Warn("NOTIFY", fmt.Sprintf("callback alert failed: %v", err))
	}
}

func parsePrices(s string) (map[string]float64, error) {
	prices := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("bad price entry %q", pair)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad price in %q", pair)
		}
		prices[strings.TrimSpace(kv[0])] = price
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no prices given")
	}
	return prices, nil
}

func parseCodes(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	var codes []string
	for _, code := range strings.Split(s, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}
