package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SessionState is a Session's position in the state machine.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionWelcomed
	SessionReconnecting
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "CONNECTING"
	case SessionWelcomed:
		return "WELCOMED"
	case SessionReconnecting:
		return "RECONNECTING"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PlaceResult is the outcome of Session.Place.
type PlaceResult int

const (
	PlaceSuccess PlaceResult = iota
	PlaceNoSessionIDYet
	PlaceCostExceeded
)

// SessionEvents is how a Session reports state transitions and dispatches
// upward to its owning ConnectionPool. Methods run on the Transport's read
// goroutine and must not block; the Pool handles them under its own mutex
// and runs API calls on separate goroutines.
type SessionEvents interface {
	// OnWelcomed is called once, when the Session first reaches WELCOMED.
	OnWelcomed(s *Session)
	// OnReconnectRequested is called when the server sends a
	// session_reconnect frame; reconnectURL is the server-supplied URL the
	// Pool should dial for the replacement Session.
	OnReconnectRequested(s *Session, reconnectURL string)
	// OnNotification is called for every decoded notification frame.
	OnNotification(s *Session, subscriptionType string, event json.RawMessage)
	// OnRevocation is called when a subscription is revoked server-side.
	OnRevocation(s *Session, subscriptionID, status string)
	// OnClosed is called once the Session's Transport disconnects, whether
	// from a watchdog trip, a transport error, or a caller-initiated close.
	OnClosed(s *Session, cause error)
}

// Session wraps a Transport and owns the EventSub session-level state
// machine: welcome timeout, keepalive watchdog, and the server-assigned
// session_id subscriptions are bound to. Raw I/O lives in Transport; this
// type only knows protocol semantics layered on top of it.
type Session struct {
	mu sync.Mutex

	index     int
	transport *Transport
	events    SessionEvents

	state         SessionState
	sessionID     string
	keepaliveSecs int

	welcomeTimeout time.Duration
	keepaliveGrace time.Duration

	lastFrameAt time.Time

	placed   map[TopicKey]*Subscription
	usedCost int

	cancelWatchdog context.CancelFunc
	welcomedCh     chan struct{}
	doneCh         chan struct{}
	doneOnce       sync.Once
}

// NewSession creates a Session at index idx, dialing uri lazily via Open.
func NewSession(idx int, uri string, welcomeTimeout, keepaliveGrace time.Duration, events SessionEvents) *Session {
	s := &Session{
		index:          idx,
		events:         events,
		state:          SessionConnecting,
		welcomeTimeout: welcomeTimeout,
		keepaliveGrace: keepaliveGrace,
		placed:         make(map[TopicKey]*Subscription),
		welcomedCh:     make(chan struct{}, 1),
		doneCh:         make(chan struct{}),
	}
	s.transport = NewTransport(uri, s)
	return s
}

// Index returns this Session's stable local index.
func (s *Session) Index() int { return s.index }

// closedCh returns a channel that closes once this Session transitions to
// CLOSED, for a supervisor goroutine to wait on.
func (s *Session) closedCh() <-chan struct{} {
	return s.doneCh
}

func (s *Session) signalDone() {
	s.doneOnce.Do(func() { close(s.doneCh) })
}

// SessionID returns the server-assigned session_id, or "" before welcome.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// State returns the current SessionState.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UsedCost returns the sum of ExpectedCost over every Subscription currently
// placed on this Session.
func (s *Session) UsedCost() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedCost
}

// Placed returns a copy of the Subscriptions currently placed here.
func (s *Session) Placed() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, 0, len(s.placed))
	for _, sub := range s.placed {
		out = append(out, sub)
	}
	return out
}

// Open connects the underlying Transport and starts the welcome-timeout
// timer. CONNECTING -[transport open]-> CONNECTING,
// arming the timer that fires OnClosed if no welcome frame arrives in time.
func (s *Session) Open(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("session %d: %w", s.index, err)
	}

	watchdogCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelWatchdog = cancel
	s.mu.Unlock()

	go s.runWatchdog(watchdogCtx, s.welcomeTimeout)
	return nil
}

// Place is invoked by the Pool to bind a Subscription to this Session. It
// never touches the network if the Session is not yet WELCOMED or the
// budget is exceeded; the caller (Pool) performs the actual create-request
// HTTP call via the API collaborator once PlaceSuccess is returned, since
// that call may suspend and must not happen under this Session's lock.
func (s *Session) Place(sub *Subscription, budget int) PlaceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionWelcomed {
		return PlaceNoSessionIDYet
	}
	if s.usedCost+sub.ExpectedCost > budget {
		return PlaceCostExceeded
	}

	s.placed[sub.Key] = sub
	s.usedCost += sub.ExpectedCost
	sub.SessionIndex = s.index
	return PlaceSuccess
}

// Remove un-places sub from this Session's bookkeeping. The caller is
// responsible for issuing the delete-subscription API call if
// sub.SubscriptionID is set.
func (s *Session) Remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.placed[sub.Key]; ok {
		delete(s.placed, sub.Key)
		s.usedCost -= sub.ExpectedCost
		if s.usedCost < 0 {
			s.usedCost = 0
		}
	}
}

// Send writes text to the underlying Transport.
func (s *Session) Send(text string) error {
	return s.transport.Send(text)
}

// Close closes the underlying Transport. The resulting disconnect is
// reported asynchronously through OnClosed, same as any other transport
// failure.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.cancelWatchdog != nil {
		s.cancelWatchdog()
	}
	s.state = SessionClosed
	s.mu.Unlock()
	s.transport.Close(reason)
}

// OnMessage implements TransportHandler. It classifies the frame by
// message_type and transitions state.
func (s *Session) OnMessage(data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		// Malformed frame: dropped without being reported upstream.
		// Frames with an unknown message_type are likewise dropped by the
		// switch below.
		return
	}

	s.mu.Lock()
	s.lastFrameAt = time.Now()
	s.mu.Unlock()

	switch frame.Metadata.MessageType {
	case MessageTypeWelcome:
		s.handleWelcome(frame)
	case MessageTypeKeepalive:
		// watchdog already reset above; no further action
	case MessageTypeNotification:
		s.handleNotification(frame)
	case MessageTypeReconnect:
		s.handleReconnect(frame)
	case MessageTypeRevocation:
		s.handleRevocation(frame)
	}
}

func (s *Session) handleWelcome(frame *Frame) {
	var payload WelcomePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}

	s.mu.Lock()
	s.sessionID = payload.Session.ID
	s.keepaliveSecs = payload.Session.KeepaliveTimeoutSeconds
	s.state = SessionWelcomed
	s.mu.Unlock()

	select {
	case s.welcomedCh <- struct{}{}:
	default:
	}

	s.events.OnWelcomed(s)
}

func (s *Session) handleNotification(frame *Frame) {
	var payload NotificationPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	s.events.OnNotification(s, frame.Metadata.SubscriptionType, payload.Event)
}

func (s *Session) handleReconnect(frame *Frame) {
	var payload ReconnectPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}

	s.mu.Lock()
	s.state = SessionReconnecting
	s.mu.Unlock()

	s.events.OnReconnectRequested(s, payload.Session.ReconnectURL)
}

func (s *Session) handleRevocation(frame *Frame) {
	var payload RevocationPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	s.events.OnRevocation(s, payload.Subscription.ID, payload.Subscription.Status)
}

// OnDisconnected implements TransportHandler.
func (s *Session) OnDisconnected(cause error) {
	s.mu.Lock()
	if s.cancelWatchdog != nil {
		s.cancelWatchdog()
	}
	s.state = SessionClosed
	s.mu.Unlock()
	s.events.OnClosed(s, cause)
	s.signalDone()
}

// runWatchdog enforces both the welcome timeout and, once WELCOMED, the
// keepalive watchdog (keepalive_seconds + grace, with the grace component configurable separately). The watchdog re-arms itself after welcome
// with the server-reported keepalive interval.
func (s *Session) runWatchdog(ctx context.Context, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.welcomedCh:
			// Welcome arrived before the welcome timer fired; switch the
			// watchdog to the server-reported keepalive window immediately
			// instead of waiting out the remainder of welcomeTimeout.
			s.mu.Lock()
			window := time.Duration(s.keepaliveSecs)*time.Second + s.keepaliveGrace
			s.mu.Unlock()
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(window)
		case <-timer.C:
			s.mu.Lock()
			welcomed := s.state == SessionWelcomed
			elapsed := time.Since(s.lastFrameAt)
			s.mu.Unlock()

			if !welcomed {
				// welcome never arrived in time
				s.Close("welcome timeout")
				return
			}

			window := time.Duration(s.keepaliveSecs)*time.Second + s.keepaliveGrace
			if elapsed >= window {
				s.Close("keepalive watchdog expired")
				return
			}
			timer.Reset(window - elapsed)
		}
	}
}
