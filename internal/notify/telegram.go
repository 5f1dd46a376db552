package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MauroilFuriano/dashboard/internal/models"
	"gorm.io/gorm"
)

// TelegramNotifier delivers alerts through the Telegram Bot API. Delivery is
// fire-and-forget: failures are logged and swallowed, never retried.
// Notifications are a convenience channel, losing one is acceptable; losing a
// payment record is not.
type TelegramNotifier struct {
	db          *gorm.DB
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
}

func NewTelegram(db *gorm.DB, botToken, adminChatID string) *TelegramNotifier {
	return &TelegramNotifier{
		db:          db,
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     "https://api.telegram.org",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *TelegramNotifier) NotifyAdmin(text string) {
	n.send(n.adminChatID, text)
}

// NotifyCustomer delivers to the chat the customer registered from the
// dashboard. No registered chat means the notification is silently skipped.
func (n *TelegramNotifier) NotifyCustomer(email, text string) {
	if email == "" {
		return
	}
	var contact models.TelegramContact
	if err := n.db.First(&contact, "user_email = ?", email).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("telegram contact lookup failed", "email", email, "error", err)
		}
		return
	}
	n.send(contact.ChatID, text)
}

func (n *TelegramNotifier) send(chatID, text string) {
	if n.botToken == "" || chatID == "" {
		slog.Warn("telegram config missing, notification skipped")
		return
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		slog.Error("telegram payload marshal failed", "error", err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("telegram send failed", "error", err)
		return
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Error("telegram response decode failed", "status", resp.StatusCode, "error", err)
		return
	}
	if !result.OK {
		slog.Error("telegram rejected message", "status", resp.StatusCode, "description", result.Description)
		return
	}
	slog.Info("telegram notification sent", "chat_id", chatID)
}
