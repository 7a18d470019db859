// Package constants defines the EventSub WebSocket endpoint, the Helix
// subscription endpoints consumed through the API collaborator, and the
// default timeout/interval values used throughout the manager.
package constants

import "time"

const (
	// EventSubWebSocketURL is the default EventSub WebSocket endpoint.
	// A session_reconnect frame may override this per-session with a
	// server-supplied URL.
	EventSubWebSocketURL = "wss://eventsub.wss.twitch.tv/ws"
	// HelixURL is the base Twitch Helix REST API URL, used by the API
	// collaborator for user-id lookups and subscription management.
	HelixURL = "https://api.twitch.tv/helix"
	// HelixUsersEndpoint resolves logins to user ids.
	HelixUsersEndpoint = HelixURL + "/users"
	// HelixEventSubSubscriptionsEndpoint creates/lists/deletes subscriptions.
	HelixEventSubSubscriptionsEndpoint = HelixURL + "/eventsub/subscriptions"
)

const (
	// DefaultSessionCostBudget is the per-session subscription cost budget,
	// matching the upstream platform's published per-session limit.
	DefaultSessionCostBudget = 10
	// DefaultMaxSessions is the hard cap on concurrently open sessions.
	DefaultMaxSessions = 3
)

const (
	// DefaultWelcomeTimeout bounds how long a Session waits for a
	// session_welcome frame after the transport opens.
	DefaultWelcomeTimeout = 15 * time.Second
	// DefaultKeepaliveGrace is added on top of the server-reported
	// keepalive_timeout_seconds to form the watchdog window.
	DefaultKeepaliveGrace = 10 * time.Second
	// DefaultBackoffInitial is the first reconnect backoff delay.
	DefaultBackoffInitial = time.Second
	// DefaultBackoffMax caps the exponential reconnect backoff.
	DefaultBackoffMax = 60 * time.Second
	// DefaultHTTPTimeout bounds a single Helix API request.
	DefaultHTTPTimeout = 15 * time.Second
	// DefaultMaxRetries is the default number of retries for Helix requests.
	DefaultMaxRetries = 3
	// DefaultResolverCacheSize bounds the IdResolver's LRU cache.
	DefaultResolverCacheSize = 4096
	// DefaultGracefulShutdownTimeout bounds how long the status server
	// waits for in-flight requests to finish during shutdown.
	DefaultGracefulShutdownTimeout = 5 * time.Second
)

// ClientID is the Twitch application client id sent with every Helix request.
// In a real deployment this is supplied by configuration; the constant here
// is only a fallback default for local/demo runs.
const ClientID = "eventsub-go-demo-client"
