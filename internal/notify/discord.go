package notify

import (
	"context"
	"net/http"

	"github.com/tduva/eventsub-go/internal/logger"
)

// Discord sends notifications via a Discord webhook.
type Discord struct {
	baseNotifier
	webhookURL string
	httpClient *http.Client
}

// Send posts an embed message to the configured Discord webhook.
func (d *Discord) Send(ctx context.Context, _ logger.Event, title, message string) error {
	payload := map[string]any{
		"username":   "EventSub Subscription Manager",
		"avatar_url": "https://i.imgur.com/X9fEkhT.png",
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": message,
				"color":       6570404, // Twitch purple
			},
		},
	}

	return sendJSON(ctx, d.httpClient, "discord", http.MethodPost, d.webhookURL, payload, nil)
}
