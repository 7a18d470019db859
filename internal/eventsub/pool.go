package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tduva/eventsub-go/internal/logger"
)

// ErrRateLimited is returned by a SubscriptionAPI implementation when the
// server rejects a create-subscription request with HTTP 429.
var ErrRateLimited = errors.New("eventsub: create-subscription rate limited")

// SubscriptionRequest is the JSON body posted to the create-subscription
// Helix endpoint, built by buildCreateRequest.
type SubscriptionRequest = createRequestBody

// SubscriptionAPI is the subset of the external API collaborator the Pool
// needs to realize placements: creating and deleting server-side
// subscriptions. IdResolver's UserIDLookup is the other half of the
// collaborator contract.
type SubscriptionAPI interface {
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (id string, err error)
	DeleteSubscription(ctx context.Context, id string) error
}

// SubscriptionStatus is the trimmed view of one server-side subscription, as
// reported by a SubscriptionAuditor, used to reconcile desired vs. realized
// state after a reconnect gap.
type SubscriptionStatus struct {
	ID     string
	Type   string
	Status string
	Cost   int
}

// SubscriptionAuditor lists every subscription currently active server-side,
// independent of which Session (if any) believes it owns it.
type SubscriptionAuditor interface {
	GetSubscriptions(ctx context.Context) ([]SubscriptionStatus, error)
}

// PoolConfig carries the tunables ConnectionPool needs.
type PoolConfig struct {
	URI            string
	Budget         int
	MaxSessions    int
	WelcomeTimeout time.Duration
	KeepaliveGrace time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type placementRequest struct {
	sub           *Subscription
	broadcasterID string
	localID       string
}

// ConnectionPool owns a dynamic set of Sessions, shards Subscriptions
// across them under the per-session cost budget, and forwards inbound
// notifications to the Manager via connectionsHandler.
type ConnectionPool struct {
	mu sync.Mutex

	cfg     PoolConfig
	api     SubscriptionAPI
	handler connectionsHandler
	log     *logger.Logger

	sessions []*Session
	// pendingPlacements queues Place calls made against a Session that
	// exists but has not yet reached WELCOMED (freshly opened for
	// capacity); they are retried as soon as that Session welcomes.
	pendingPlacements map[int][]placementRequest
	// handoff maps an old Session to the replacement Session opened for
	// it, from OnReconnectRequested until the replacement welcomes.
	handoff map[*Session]*Session

	// runGroup/runCtx are set by Run for the pool's lifetime and used by
	// superviseAsync so every Session, however it was created, gets the
	// same supervising goroutine Run gives the first one.
	runGroup *errgroup.Group
	runCtx   context.Context

	notifiedRateLimit bool
	notifiedCapacity  bool

	closed bool
}

// NewConnectionPool creates an empty Pool. Call Run to open the first
// Session and start its supervising goroutines.
func NewConnectionPool(cfg PoolConfig, api SubscriptionAPI, handler connectionsHandler, log *logger.Logger) *ConnectionPool {
	return &ConnectionPool{
		cfg:               cfg,
		api:               api,
		handler:           handler,
		log:               log,
		pendingPlacements: make(map[int][]placementRequest),
		handoff:           make(map[*Session]*Session),
	}
}

// Run opens the first Session and blocks, supervising every Session's
// reconnect loop, until ctx is cancelled.
func (p *ConnectionPool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	p.mu.Lock()
	p.runGroup = g
	p.runCtx = gctx
	first := p.openSessionLocked(len(p.sessions))
	p.mu.Unlock()

	p.superviseAsync(first)

	<-gctx.Done()
	p.mu.Lock()
	p.closed = true
	sessions := append([]*Session(nil), p.sessions...)
	p.mu.Unlock()
	for _, s := range sessions {
		s.Close("pool shutting down")
	}

	_ = g.Wait()
	return gctx.Err()
}

// superviseAsync hands s to the pool's run-lifetime errgroup so it gets the
// same supervising goroutine regardless of whether it was opened by Run, by
// Place's capacity-growth branch, or by a reconnect handoff. Called before
// Run (which should not happen in practice) it logs and does nothing, since
// there is no pool-lifetime context yet to supervise with.
func (p *ConnectionPool) superviseAsync(s *Session) {
	p.mu.Lock()
	g, ctx := p.runGroup, p.runCtx
	p.mu.Unlock()

	if g == nil {
		p.log.Error("cannot supervise session, pool is not running", "session", s.Index())
		return
	}

	g.Go(func() error {
		return p.superviseSession(ctx, s)
	})
}

// ConnectionCount returns the number of Sessions currently tracked, welcomed
// or not.
func (p *ConnectionPool) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// AnyWelcomed reports whether at least one Session is currently WELCOMED.
func (p *ConnectionPool) AnyWelcomed() bool {
	p.mu.Lock()
	sessions := append([]*Session(nil), p.sessions...)
	p.mu.Unlock()

	for _, s := range sessions {
		if s.State() == SessionWelcomed {
			return true
		}
	}
	return false
}

// ForceReconnectAll closes every currently tracked Session; each is reopened
// by its own superviseSession loop, and any Subscriptions it was carrying
// are reported through onSessionLost the same as an unplanned disconnect.
func (p *ConnectionPool) ForceReconnectAll(reason string) {
	p.mu.Lock()
	sessions := append([]*Session(nil), p.sessions...)
	p.mu.Unlock()

	for _, s := range sessions {
		s.Close(reason)
	}
}

// openSessionLocked creates a new Session at idx and records it in
// p.sessions without dialing it. p.mu must be held by the caller; the
// Session is opened later by superviseSession, outside the lock.
func (p *ConnectionPool) openSessionLocked(idx int) *Session {
	s := NewSession(idx, p.cfg.URI, p.cfg.WelcomeTimeout, p.cfg.KeepaliveGrace, p)
	if idx < len(p.sessions) {
		p.sessions[idx] = s
	} else {
		p.sessions = append(p.sessions, s)
	}
	return s
}

// superviseSession runs one Session's Open/reconnect loop with exponential
// backoff, reset after every successful welcome. It returns when ctx is
// cancelled.
func (p *ConnectionPool) superviseSession(ctx context.Context, s *Session) error {
	attempt := 0
	for {
		if err := s.Open(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("session dial failed, retrying", "session", s.Index(), "error", err)
			delay := backoff(attempt, p.cfg.BackoffInitial, p.cfg.BackoffMax)
			attempt++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		<-s.closedCh()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.mu.Lock()
		handedOff := p.handoff[s] != nil
		delete(p.handoff, s)
		closed := p.closed
		p.mu.Unlock()

		if handedOff || closed {
			return nil
		}

		lost := s.Placed()
		if len(lost) > 0 {
			p.handler.onSessionLost(lost)
		}

		// A session_id is only assigned on welcome; a Session that closed
		// without one keeps growing the backoff.
		if s.SessionID() != "" {
			attempt = 0
		}
		delay := backoff(attempt, p.cfg.BackoffInitial, p.cfg.BackoffMax)
		attempt++
		p.log.Warn("session lost, reopening", "session", s.Index(), "backoff", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		p.mu.Lock()
		s = p.openSessionLocked(s.Index())
		p.mu.Unlock()
	}
}

// Place attempts to bind sub to a WELCOMED Session with enough remaining
// budget, building its create-subscription body from the already-resolved
// broadcasterID/localID. If no WELCOMED Session has room for it, a new
// Session is opened (up to MaxSessions) and the placement is retried once it
// welcomes. If the hard cap is reached, CapacityExhausted is reported
// exactly once per run.
func (p *ConnectionPool) Place(ctx context.Context, sub *Subscription, broadcasterID, localID string) {
	p.mu.Lock()

	for _, s := range p.sessions {
		if s.State() != SessionWelcomed {
			continue
		}
		if result := s.Place(sub, p.cfg.Budget); result == PlaceSuccess {
			p.mu.Unlock()
			p.submitCreate(ctx, s, sub, broadcasterID, localID)
			return
		}
	}

	if len(p.sessions) < p.cfg.MaxSessions {
		idx := len(p.sessions)
		s := p.openSessionLocked(idx)
		p.pendingPlacements[idx] = append(p.pendingPlacements[idx], placementRequest{sub, broadcasterID, localID})
		p.mu.Unlock()

		p.superviseAsync(s)
		return
	}

	p.mu.Unlock()
	p.notifyCapacityExhausted()
}

// Remove un-places sub, issuing a delete-subscription call if it had a
// server-assigned id.
func (p *ConnectionPool) Remove(ctx context.Context, sub *Subscription) {
	p.mu.Lock()
	var owner *Session
	for _, s := range p.sessions {
		if s.Index() == sub.SessionIndex {
			owner = s
			break
		}
	}
	p.mu.Unlock()

	if owner != nil {
		owner.Remove(sub)
	}

	if sub.SubscriptionID != "" {
		id := sub.SubscriptionID
		sub.SubscriptionID = ""
		go func() {
			if err := p.api.DeleteSubscription(ctx, id); err != nil {
				p.log.Warn("delete subscription failed", "id", id, "error", err)
			}
		}()
	}
}

func (p *ConnectionPool) submitCreate(ctx context.Context, s *Session, sub *Subscription, broadcasterID, localID string) {
	body, ok := buildCreateRequest(sub.Key, broadcasterID, localID, s.SessionID())
	if !ok {
		return
	}
	sub.resolvedHint.broadcaster = broadcasterID
	sub.resolvedHint.local = localID

	go func() {
		id, err := p.api.CreateSubscription(ctx, body)
		if err != nil {
			s.Remove(sub)
			sub.SessionIndex = -1

			statusCode := 0
			if errors.Is(err, ErrRateLimited) {
				statusCode = 429
				p.notifyRateLimited()
			}
			p.handler.onRegisterError(s.Index(), sub.Key, statusCode, err)
			return
		}
		sub.SubscriptionID = id
	}()
}

func (p *ConnectionPool) notifyRateLimited() {
	p.mu.Lock()
	if p.notifiedRateLimit {
		p.mu.Unlock()
		return
	}
	p.notifiedRateLimit = true
	p.mu.Unlock()
	p.handler.onSendInfo("session.eventsub.limit: create-subscription request was rate limited (HTTP 429)")
}

func (p *ConnectionPool) notifyCapacityExhausted() {
	p.mu.Lock()
	if p.notifiedCapacity {
		p.mu.Unlock()
		return
	}
	p.notifiedCapacity = true
	p.mu.Unlock()
	p.handler.onSendInfo(fmt.Sprintf("session.eventsub.maxtopics: all %d sessions are at capacity", p.cfg.MaxSessions))
}

// --- SessionEvents, implemented so ConnectionPool is every Session's
// direct event sink; it forwards a narrowed view upward via
// connectionsHandler.

func (p *ConnectionPool) OnWelcomed(s *Session) {
	p.mu.Lock()
	queued := p.pendingPlacements[s.Index()]
	delete(p.pendingPlacements, s.Index())

	var newForHandoff *Session
	for old, repl := range p.handoff {
		if repl == s {
			newForHandoff = old
		}
	}
	p.mu.Unlock()

	for _, pr := range queued {
		p.Place(context.Background(), pr.sub, pr.broadcasterID, pr.localID)
	}

	if newForHandoff != nil {
		p.transferHandoff(context.Background(), newForHandoff, s)
	}

	p.handler.onSessionWelcomed(s.Index())
}

func (p *ConnectionPool) OnReconnectRequested(s *Session, reconnectURL string) {
	p.mu.Lock()
	idx := len(p.sessions)
	replacement := NewSession(idx, reconnectURL, p.cfg.WelcomeTimeout, p.cfg.KeepaliveGrace, p)
	p.sessions = append(p.sessions, replacement)
	p.handoff[s] = replacement
	p.mu.Unlock()

	p.superviseAsync(replacement)
}

// transferHandoff re-creates every Subscription placed on old against
// repl, then closes old. Events received on old between reconnect and
// close are still dispatched by old's own read loop until Close takes
// effect.
func (p *ConnectionPool) transferHandoff(ctx context.Context, old, repl *Session) {
	for _, sub := range old.Placed() {
		old.Remove(sub)
		broadcasterID, localID := sub.resolvedHint.broadcaster, sub.resolvedHint.local
		if result := repl.Place(sub, p.cfg.Budget); result == PlaceSuccess {
			p.submitCreate(ctx, repl, sub, broadcasterID, localID)
		}
	}
	old.Close("replaced by session_reconnect handoff")
}

func (p *ConnectionPool) OnNotification(s *Session, subscriptionType string, event json.RawMessage) {
	p.handler.onRecv(s.Index(), subscriptionType, event)
}

func (p *ConnectionPool) OnRevocation(s *Session, subscriptionID, status string) {
	p.mu.Lock()
	var key TopicKey
	found := false
	for _, sess := range p.sessions {
		for _, sub := range sess.Placed() {
			if sub.SubscriptionID == subscriptionID {
				key = sub.Key
				found = true
				sess.Remove(sub)
				break
			}
		}
		if found {
			break
		}
	}
	p.mu.Unlock()

	if found {
		p.handler.onRevoked(key, status)
	}
}

func (p *ConnectionPool) OnClosed(s *Session, cause error) {
	// Reconnect/backoff handling lives in superviseSession, which is
	// waiting on s.closedCh(); nothing to do here beyond that signal.
}
