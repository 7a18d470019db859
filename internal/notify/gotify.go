package notify

import (
	"context"
	"net/http"
	"strings"

	"github.com/tduva/eventsub-go/internal/logger"
)

// Gotify sends notifications via a Gotify server.
type Gotify struct {
	baseNotifier
	url        string
	token      string
	httpClient *http.Client
}

// Send posts a notification to the Gotify server.
func (g *Gotify) Send(ctx context.Context, _ logger.Event, title, message string) error {
	payload := map[string]any{
		"title":    title,
		"message":  message,
		"priority": 5,
	}

	endpoint := strings.TrimRight(g.url, "/") + "/message"
	headers := map[string]string{"X-Gotify-Key": g.token}
	return sendJSON(ctx, g.httpClient, "gotify", http.MethodPost, endpoint, payload, headers)
}
