package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tduva/eventsub-go/internal/logger"
)

// Matrix sends notifications via the Matrix client-server API.
type Matrix struct {
	baseNotifier
	homeserver  string
	accessToken string
	roomID      string
	httpClient  *http.Client
	txnCounter  atomic.Int64
}

// Send puts a message into the configured Matrix room.
func (m *Matrix) Send(ctx context.Context, _ logger.Event, _, message string) error {
	encodedRoomID := url.PathEscape(m.roomID)
	txnID := fmt.Sprintf("m%d.%d", time.Now().UnixNano(), m.txnCounter.Add(1))

	apiURL := fmt.Sprintf("https://%s/_matrix/client/r0/rooms/%s/send/m.room.message/%s",
		m.homeserver, encodedRoomID, txnID)

	payload := map[string]string{
		"msgtype": "m.text",
		"body":    message,
	}

	headers := map[string]string{"Authorization": "Bearer " + m.accessToken}
	return sendJSON(ctx, m.httpClient, "matrix", http.MethodPut, apiURL, payload, headers)
}
