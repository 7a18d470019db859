package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tduva/eventsub-go/internal/logger"
)

// Telegram sends notifications via the Telegram Bot API.
type Telegram struct {
	baseNotifier
	token               string
	chatID              string
	disableNotification bool
	httpClient          *http.Client
}

// Send posts a message to the configured Telegram chat.
func (t *Telegram) Send(ctx context.Context, _ logger.Event, title, message string) error {
	text := message
	if title != "" {
		text = fmt.Sprintf("<b>%s</b>\n%s", title, message)
	}

	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
		"disable_notification":     t.disableNotification,
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	return sendJSON(ctx, t.httpClient, "telegram", http.MethodPost, url, payload, nil)
}
