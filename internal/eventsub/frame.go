package eventsub

import "encoding/json"

// Frame message types, taken from metadata.message_type on every inbound
// EventSub WebSocket text frame.
const (
	MessageTypeWelcome     = "session_welcome"
	MessageTypeKeepalive   = "session_keepalive"
	MessageTypeNotification = "notification"
	MessageTypeReconnect   = "session_reconnect"
	MessageTypeRevocation  = "revocation"
)

// Frame is the envelope every inbound WebSocket text frame is parsed into.
// Payload fields vary by MessageType; only the fields relevant to that type
// are populated by the server.
type Frame struct {
	Metadata FrameMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// FrameMetadata is the metadata block present on every frame.
type FrameMetadata struct {
	MessageID        string `json:"message_id"`
	MessageType      string `json:"message_type"`
	MessageTimestamp string `json:"message_timestamp"`
	// SubscriptionType and SubscriptionVersion are only set on notification
	// frames.
	SubscriptionType    string `json:"subscription_type,omitempty"`
	SubscriptionVersion string `json:"subscription_version,omitempty"`
}

// WelcomePayload is payload.session on a session_welcome frame.
type WelcomePayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

// ReconnectPayload is payload.session on a session_reconnect frame.
type ReconnectPayload struct {
	Session struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ReconnectURL string `json:"reconnect_url"`
	} `json:"session"`
}

// NotificationPayload is the payload on a notification frame. Event is left
// as a raw message: the Manager/listener decode it per-topic-type, this
// package never needs to know its shape.
type NotificationPayload struct {
	Subscription struct {
		ID        string          `json:"id"`
		Status    string          `json:"status"`
		Type      string          `json:"type"`
		Version   string          `json:"version"`
		Cost      int             `json:"cost"`
		Condition json.RawMessage `json:"condition"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

// RevocationPayload is the payload on a revocation frame.
type RevocationPayload struct {
	Subscription struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Type   string `json:"type"`
	} `json:"subscription"`
}

// ParseFrame unmarshals a raw text frame into a Frame envelope.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
