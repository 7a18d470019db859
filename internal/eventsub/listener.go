package eventsub

import "encoding/json"

// Listener is the callback surface the Manager drives, consumed by the rest
// of the application.
type Listener interface {
	// Info is a diagnostic, free-form message, including wire traffic
	// summaries.
	Info(text string)
	// Event is a decoded notification: subscriptionType is the EventSub
	// type string (e.g. "channel.raid"), payload is the raw event object.
	Event(subscriptionType string, payload json.RawMessage)
	// StatusChanged reports a connectivity state summary.
	StatusChanged(summary string)
}

// connectionsHandler is the internal callback surface the ConnectionPool
// drives, replacing a one-off anonymous listener with a named interface
// passed by value. The three core methods (onRecv/onSendInfo/
// onRegisterError) cover wire traffic; the remaining methods cover pool
// lifecycle events the Manager needs to keep its pending set in sync.
type connectionsHandler interface {
	onRecv(sessionIdx int, subscriptionType string, event json.RawMessage)
	onSendInfo(text string)
	onRegisterError(sessionIdx int, key TopicKey, statusCode int, err error)

	// onRevoked is called when the server revokes an active subscription.
	onRevoked(key TopicKey, status string)
	// onSessionWelcomed signals that sessionIdx just reached WELCOMED, a
	// cue to retry placing every ready-but-unplaced Subscription.
	onSessionWelcomed(sessionIdx int)
	// onSessionLost reports Subscriptions that were placed on a Session
	// that just closed; the caller should return them to its pending set.
	onSessionLost(subs []*Subscription)
}
