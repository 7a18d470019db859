package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tduva/eventsub-go/internal/logger"
)

// Webhook sends notifications via a generic HTTP webhook.
type Webhook struct {
	baseNotifier
	url        string
	method     string
	httpClient *http.Client
}

// Send delivers a notification via the configured webhook endpoint.
// For POST requests, the payload is sent as JSON in the body.
// For GET requests, event and message are appended as query parameters.
func (w *Webhook) Send(ctx context.Context, event logger.Event, title, message string) error {
	switch strings.ToUpper(w.method) {
	case http.MethodGet:
		u, err := url.Parse(w.url)
		if err != nil {
			return fmt.Errorf("webhook: parse url: %w", err)
		}
		q := u.Query()
		q.Set("event_name", string(event))
		q.Set("title", title)
		q.Set("message", message)
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("webhook: create request: %w", err)
		}
		return doSend(w.httpClient, "webhook", req)

	case http.MethodPost:
		payload := map[string]string{
			"event":   string(event),
			"title":   title,
			"message": message,
		}
		return sendJSON(ctx, w.httpClient, "webhook", http.MethodPost, w.url, payload, nil)

	default:
		return fmt.Errorf("webhook: unsupported method %q (use GET or POST)", w.method)
	}
}
