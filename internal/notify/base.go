package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tduva/eventsub-go/internal/logger"
)

// baseNotifier provides shared boilerplate for all notification providers.
// Embed it in concrete notifier structs to eliminate duplicated Name(),
type baseNotifier struct {
	name    string
	enabled bool
	events  []logger.Event
}

// Name returns the human-readable name of the notifier.
func (b *baseNotifier) Name() string { return b.name }

// IsEnabled reports whether this notifier is active.
func (b *baseNotifier) IsEnabled() bool { return b.enabled }

// ShouldNotify reports whether this notifier should fire for the given event.
func (b *baseNotifier) ShouldNotify(event logger.Event) bool {
	return containsEvent(b.events, event)
}

// sendJSON marshals payload (if non-nil) as the request body, sets
// Content-Type and any extra headers, and executes it. Every JSON-speaking
// provider (Telegram, Discord, the Webhook POST branch, Matrix, Gotify)
// shares this instead of repeating marshal/build/do/check.
func sendJSON(ctx context.Context, client *http.Client, provider, method, url string, payload any, headers map[string]string) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", provider, err)
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", provider, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return doSend(client, provider, req)
}

// doSend executes req and reports any status >= 400 as an error, closing
// the response body either way. Providers whose request isn't a plain JSON
// POST (Webhook's GET branch, Pushover's form body) build req themselves
// and still go through this for the send/status-check half.
func doSend(client *http.Client, provider string, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: unexpected status %d: %s", provider, resp.StatusCode, string(body))
	}
	return nil
}
