package bot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"ticketline/internal/logger"
	"ticketline/internal/models"
)

// Client is the outbound chat-platform API client. It also implements
// lifecycle.Notifier: the engine talks to buyers and admins through it.
type Client struct {
	apiBase     string
	token       string
	http        *http.Client
	adminIDs    []int64
	paymentLink string
	log         *logger.Logger
}

func NewClient(apiBase, token string, httpClient *http.Client, adminIDs []int64, paymentLink string, log *logger.Logger) *Client {
	return &Client{
		apiBase:     apiBase,
		token:       token,
		http:        httpClient,
		adminIDs:    adminIDs,
		paymentLink: paymentLink,
		log:         log,
	}
}

func (c *Client) url(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

func (c *Client) call(method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.url(method), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, raw)
	}
	return nil
}

// SendMessage sends text with an optional inline keyboard.
func (c *Client) SendMessage(chatID int64, text string, keyboard *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if keyboard != nil {
		payload["reply_markup"] = keyboard
	}
	return c.call("sendMessage", payload)
}

// SendPhoto uploads a PNG with a caption.
func (c *Client) SendPhoto(chatID int64, png []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	_ = w.WriteField("caption", caption)
	part, err := w.CreateFormFile("photo", "ticket.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(png); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	resp, err := c.http.Post(c.url("sendPhoto"), w.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sendPhoto: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// ChatMemberCount returns how many members a channel or group has. chatID
// takes the "@channelname" form for public channels.
func (c *Client) ChatMemberCount(chatID string) (int, error) {
	body, err := json.Marshal(map[string]any{"chat_id": chatID})
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Post(c.url("getChatMemberCount"), "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("getChatMemberCount: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("getChatMemberCount: status %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		OK     bool `json:"ok"`
		Result int  `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("getChatMemberCount: decode: %w", err)
	}
	if !out.OK {
		return 0, fmt.Errorf("getChatMemberCount: api returned ok=false")
	}
	return out.Result, nil
}

// AnswerCallback acknowledges a button press, optionally with an alert.
func (c *Client) AnswerCallback(callbackID, text string, alert bool) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
		payload["show_alert"] = alert
	}
	return c.call("answerCallbackQuery", payload)
}

// --- lifecycle.Notifier ---

func (c *Client) BuyerText(buyerID int64, text string) error {
	return c.SendMessage(buyerID, text, nil)
}

// BuyerRepay sends a rejection notice with pay + re-claim controls.
func (c *Client) BuyerRepay(buyerID, rowID int64, text string) error {
	kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "Pay", URL: c.paymentLink}},
		{{Text: "I paid", CallbackData: fmt.Sprintf("paid:%d", rowID)}},
	}}
	return c.SendMessage(buyerID, text, kb)
}

func (c *Client) BuyerTicket(buyerID int64, png []byte, caption string) error {
	return c.SendPhoto(buyerID, png, caption)
}

// AdminReview fans a payment claim out to every full administrator with
// approve/reject controls. Any one delivery succeeding is enough.
func (c *Client) AdminReview(ticket models.Ticket) error {
	kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "Confirm payment", CallbackData: fmt.Sprintf("approve:%d", ticket.ID)}},
		{{Text: "Not confirmed", CallbackData: fmt.Sprintf("reject:%d", ticket.ID)}},
	}}
	name := ticket.DisplayName
	if name == "" {
		name = fmt.Sprintf("id %d", ticket.BuyerID)
	}
	text := fmt.Sprintf("Payment claim from %s\nTicket #%d\nKind: %s\nEvent: %s", name, ticket.ID, ticket.Kind, ticket.EventCode)

	var lastErr error
	delivered := false
	for _, adminID := range c.adminIDs {
		if err := c.SendMessage(adminID, text, kb); err != nil {
			c.log.Warn("NOTIFY", fmt.Sprintf("admin %d unreachable: %v", adminID, err))
			lastErr = err
		} else {
			delivered = true
		}
	}
	if !delivered && lastErr != nil {
		return lastErr
	}
	return nil
}
