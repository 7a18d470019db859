package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tduva/eventsub-go/internal/auth"
	"github.com/tduva/eventsub-go/internal/logger"
)

// ManagerConfig carries the tunables Manager needs beyond what it forwards
// verbatim into PoolConfig.
type ManagerConfig struct {
	Pool PoolConfig
	// EnableUserMessageHeldTopic gates whether listen_message_held also
	// subscribes the chat.user_message_hold topic, or relies entirely on
	// an external IRC-based collaborator for held-message notices.
	EnableUserMessageHeldTopic bool
	// ResolverCacheSize bounds the IdResolver's forever-cache entry count.
	ResolverCacheSize int
}

// Manager is the top-level object the rest of the application talks to. It
// accepts listen/unlisten commands keyed by high-level intent, drives the
// IdResolver, and pushes ready Subscriptions into the ConnectionPool. It is
// the single owner of the pending/placed subscription set, the NameToId
// map (via resolver), and the ConnectionPool, serialized on one mutex.
type Manager struct {
	mu sync.Mutex

	cfg      ManagerConfig
	api      managerAPI
	resolver *IdResolver
	pool     *ConnectionPool
	dedup    *RaidTopicDeduper
	listener Listener
	authP    auth.Provider
	log      *logger.Logger

	// subs holds every currently desired Subscription, pending or placed;
	// at most one entry per TopicKey.
	subs map[TopicKey]*Subscription

	localUsername string

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// managerAPI is the full collaborator contract Manager needs; internal/api.Client
// satisfies it.
type managerAPI interface {
	SubscriptionAPI
	UserIDLookup
	SubscriptionAuditor
}

// NewManager wires a Manager ready to Start.
func NewManager(cfg ManagerConfig, api managerAPI, authP auth.Provider, listener Listener, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		api:      api,
		dedup:    NewRaidTopicDeduper(),
		listener: listener,
		authP:    authP,
		log:      log,
		subs:     make(map[TopicKey]*Subscription),
	}
	resolverCacheSize := cfg.ResolverCacheSize
	if resolverCacheSize <= 0 {
		resolverCacheSize = 4096
	}
	m.resolver = NewIdResolver(api, resolverCacheSize)
	m.pool = NewConnectionPool(cfg.Pool, api, m, log)
	return m
}

// Start opens the first Session and begins running the ConnectionPool in
// the background. Call Disconnect to stop it.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.runCancel = cancel
	m.runDone = make(chan struct{})
	done := m.runDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		if err := m.pool.Run(runCtx); err != nil && runCtx.Err() == nil {
			m.log.Error("connection pool run loop exited", "error", err)
		}
	}()
}

// SetLocalUsername records the authenticated user's login. Required before
// any topic variant needing moderator_user_id/local user_id can become
// ready; once it resolves, every pending Subscription depending on it is
// retried automatically.
func (m *Manager) SetLocalUsername(ctx context.Context, name string) {
	m.resolver.SetLocalUsername(name)
	m.resolver.WaitForID(ctx, name, func(id string, found bool, err error) {
		if err != nil {
			m.log.Warn("resolving local username failed", "username", name, "error", err)
			return
		}
		if !found {
			m.log.Warn("local username not found", "username", name)
			return
		}
		m.reconcilePending(ctx)
	})

	m.mu.Lock()
	m.localUsername = name
	m.mu.Unlock()
}

// TokenUpdated forces the auth provider to rebuild authorization headers on
// the next API call. Existing subscriptions are not re-created.
func (m *Manager) TokenUpdated(token string) {
	m.authP.TokenUpdated(token)
}

// Reconnect forces every currently open Session to close; each is reopened
// by the ConnectionPool's normal backoff/reconnect path, and every
// Subscription it was carrying returns to the pending set and is retried.
func (m *Manager) Reconnect() {
	m.pool.ForceReconnectAll("manual reconnect requested")
}

// Disconnect cancels all Session tasks cooperatively and stops the
// ConnectionPool. Outstanding HTTP callbacks are allowed to complete and
// become no-ops once the Manager is gone.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.runCancel
	done := m.runDone
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// IsConnected reports whether at least one Session is WELCOMED.
func (m *Manager) IsConnected() bool {
	return m.pool.AnyWelcomed()
}

// StatusText is a free-form connectivity summary for diagnostics.
func (m *Manager) StatusText() string {
	return fmt.Sprintf("sessions=%d welcomed=%v", m.pool.ConnectionCount(), m.pool.AnyWelcomed())
}

// AuditSubscriptions compares the server's view of active subscriptions
// against the locally placed set and returns any ids the server reports
// that Manager has no record of, a sign of a missed revocation or a stale
// id surviving a process restart. It does not correct anything; the caller
// decides whether to delete the orphans.
func (m *Manager) AuditSubscriptions(ctx context.Context) (orphaned []SubscriptionStatus, err error) {
	serverSide, err := m.api.GetSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditing subscriptions: %w", err)
	}

	m.mu.Lock()
	known := make(map[string]bool, len(m.subs))
	for _, sub := range m.subs {
		if sub.SubscriptionID != "" {
			known[sub.SubscriptionID] = true
		}
	}
	m.mu.Unlock()

	for _, s := range serverSide {
		if !known[s.ID] {
			orphaned = append(orphaned, s)
		}
	}
	return orphaned, nil
}

// TopicsText is a free-form listing of every desired Subscription and its
// placement state, for diagnostics.
func (m *Manager) TopicsText() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for key, sub := range m.subs {
		state := "pending"
		if sub.SessionIndex >= 0 {
			state = fmt.Sprintf("placed@%d", sub.SessionIndex)
		}
		fmt.Fprintf(&b, "%s: %s\n", key, state)
	}
	return b.String()
}

// --- listen/unlisten surface ---

func (m *Manager) listenKeys(keys ...TopicKey) {
	ctx := context.Background()
	for _, key := range keys {
		m.listenOne(ctx, key)
	}
}

func (m *Manager) listenOne(ctx context.Context, key TopicKey) {
	m.mu.Lock()
	sub, exists := m.subs[key]
	if !exists {
		sub = newSubscription(key)
		m.subs[key] = sub
	}
	m.mu.Unlock()

	m.attemptPlace(ctx, sub)

	d, ok := topicDescriptors[key.Kind]
	if !ok {
		return
	}
	if d.required&requireBroadcaster != 0 {
		if _, found := m.resolver.Lookup(key.ChannelLogin); !found {
			m.resolver.WaitForID(ctx, key.ChannelLogin, func(id string, found bool, err error) {
				if err != nil {
					m.log.Warn("resolving channel id failed", "channel", key.ChannelLogin, "error", err)
					return
				}
				m.reconcileOne(ctx, key)
			})
		}
	}
}

func (m *Manager) unlistenOne(ctx context.Context, key TopicKey) {
	m.mu.Lock()
	sub, exists := m.subs[key]
	if exists {
		delete(m.subs, key)
	}
	m.mu.Unlock()

	if !exists {
		return
	}
	if sub.SessionIndex >= 0 || sub.SubscriptionID != "" {
		m.pool.Remove(ctx, sub)
	}
}

func (m *Manager) reconcileOne(ctx context.Context, key TopicKey) {
	m.mu.Lock()
	sub, exists := m.subs[key]
	m.mu.Unlock()
	if !exists {
		return
	}
	m.attemptPlace(ctx, sub)
}

// reconcilePending retries every still-pending Subscription, used after the
// local username resolves (every local-id-dependent Subscription becomes
// attemptable at once).
func (m *Manager) reconcilePending(ctx context.Context) {
	m.mu.Lock()
	pending := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.SessionIndex < 0 && sub.SubscriptionID == "" {
			pending = append(pending, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range pending {
		m.attemptPlace(ctx, sub)
	}
}

func (m *Manager) attemptPlace(ctx context.Context, sub *Subscription) {
	if sub.SessionIndex >= 0 {
		return
	}
	broadcasterID, localID, ok := sub.ready(m.resolver)
	if !ok {
		return
	}
	m.pool.Place(ctx, sub, broadcasterID, localID)
}

// ListenRaid subscribes to raid notifications for channel, deduplicating
// against any other caller already listening on the same channel (this
// matters when channel equals the local user's own login).
func (m *Manager) ListenRaid(channel string) {
	if m.dedup.Listen(channel) {
		m.listenKeys(TopicKey{TopicRaid, channel})
	}
}

// UnlistenRaid removes interest in channel's raid notifications; the
// underlying Subscription is only actually removed once every caller that
// called ListenRaid for this channel has also called UnlistenRaid.
func (m *Manager) UnlistenRaid(channel string) {
	if m.dedup.Unlisten(channel) {
		m.unlistenKeys(TopicKey{TopicRaid, channel})
	}
}

func (m *Manager) ListenPoll(channel string) {
	m.listenKeys(TopicKey{TopicPollBegin, channel}, TopicKey{TopicPollEnd, channel})
}

func (m *Manager) UnlistenPoll(channel string) {
	m.unlistenKeys(TopicKey{TopicPollBegin, channel}, TopicKey{TopicPollEnd, channel})
}

func (m *Manager) ListenShield(channel string) {
	m.listenKeys(TopicKey{TopicShieldBegin, channel}, TopicKey{TopicShieldEnd, channel})
}

func (m *Manager) UnlistenShield(channel string) {
	m.unlistenKeys(TopicKey{TopicShieldBegin, channel}, TopicKey{TopicShieldEnd, channel})
}

func (m *Manager) ListenShoutouts(channel string) {
	m.listenKeys(TopicKey{TopicShoutoutCreate, channel})
}

func (m *Manager) UnlistenShoutouts(channel string) {
	m.unlistenKeys(TopicKey{TopicShoutoutCreate, channel})
}

func (m *Manager) ListenModActions(channel string) {
	m.listenKeys(TopicKey{TopicChannelModerate, channel})
}

func (m *Manager) UnlistenModActions(channel string) {
	m.unlistenKeys(TopicKey{TopicChannelModerate, channel})
}

func (m *Manager) ListenAutomod(channel string) {
	m.listenKeys(TopicKey{TopicAutomodMessageHold, channel}, TopicKey{TopicAutomodMessageUpdate, channel})
}

func (m *Manager) UnlistenAutomod(channel string) {
	m.unlistenKeys(TopicKey{TopicAutomodMessageHold, channel}, TopicKey{TopicAutomodMessageUpdate, channel})
}

func (m *Manager) ListenSuspicious(channel string) {
	m.listenKeys(TopicKey{TopicSuspiciousUserMessage, channel}, TopicKey{TopicSuspiciousUserUpdate, channel})
}

func (m *Manager) UnlistenSuspicious(channel string) {
	m.unlistenKeys(TopicKey{TopicSuspiciousUserMessage, channel}, TopicKey{TopicSuspiciousUserUpdate, channel})
}

func (m *Manager) ListenWarnings(channel string) {
	m.listenKeys(TopicKey{TopicWarningAcknowledge, channel})
}

func (m *Manager) UnlistenWarnings(channel string) {
	m.unlistenKeys(TopicKey{TopicWarningAcknowledge, channel})
}

// ListenMessageHeld always subscribes chat.user_message_update, and
// additionally chat.user_message_hold when EnableUserMessageHeldTopic is
// set; otherwise held-message notices are expected to arrive through an
// external IRC-based collaborator instead.
func (m *Manager) ListenMessageHeld(channel string) {
	keys := []TopicKey{{TopicChatUserMessageUpdate, channel}}
	if m.cfg.EnableUserMessageHeldTopic {
		keys = append(keys, TopicKey{TopicUserMessageHeld, channel})
	}
	m.listenKeys(keys...)
}

func (m *Manager) UnlistenMessageHeld(channel string) {
	keys := []TopicKey{{TopicChatUserMessageUpdate, channel}}
	if m.cfg.EnableUserMessageHeldTopic {
		keys = append(keys, TopicKey{TopicUserMessageHeld, channel})
	}
	m.unlistenKeys(keys...)
}

func (m *Manager) ListenPoints(channel string) {
	m.listenKeys(TopicKey{TopicChannelPointsRedemptionAdd, channel}, TopicKey{TopicChannelPointsRedemptionUpdate, channel})
}

func (m *Manager) UnlistenPoints(channel string) {
	m.unlistenKeys(TopicKey{TopicChannelPointsRedemptionAdd, channel}, TopicKey{TopicChannelPointsRedemptionUpdate, channel})
}

func (m *Manager) unlistenKeys(keys ...TopicKey) {
	ctx := context.Background()
	for _, key := range keys {
		m.unlistenOne(ctx, key)
	}
}

// --- connectionsHandler, implemented so ConnectionPool can report wire
// traffic and lifecycle events upward.

func (m *Manager) onRecv(sessionIdx int, subscriptionType string, event json.RawMessage) {
	m.listener.Event(subscriptionType, event)
}

func (m *Manager) onSendInfo(text string) {
	m.listener.Info(text)
}

func (m *Manager) onRegisterError(sessionIdx int, key TopicKey, statusCode int, err error) {
	m.log.Warn("create-subscription failed", "session", sessionIdx, "topic", key.String(), "status", statusCode, "error", err)
	m.listener.Info(fmt.Sprintf("failed to register %s: %v", key, err))
}

func (m *Manager) onRevoked(key TopicKey, status string) {
	m.mu.Lock()
	delete(m.subs, key)
	m.mu.Unlock()
	m.listener.Event("revocation", json.RawMessage(fmt.Sprintf(`{"topic":%q,"status":%q}`, key.String(), status)))
}

func (m *Manager) onSessionWelcomed(sessionIdx int) {
	m.listener.StatusChanged(m.StatusText())
	m.reconcilePending(context.Background())
}

func (m *Manager) onSessionLost(subs []*Subscription) {
	m.mu.Lock()
	for _, sub := range subs {
		sub.SessionIndex = -1
		sub.SubscriptionID = ""
	}
	m.mu.Unlock()
	m.listener.StatusChanged(m.StatusText())
	m.reconcilePending(context.Background())
}
