package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tduva/eventsub-go/internal/logger"
)

type fakeSubAPI struct {
	mu        sync.Mutex
	created   []SubscriptionRequest
	deleted   []string
	nextID    int
	failNext  bool
	rateLimit bool
}

func (f *fakeSubAPI) CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateLimit {
		return "", ErrRateLimited
	}
	if f.failNext {
		f.failNext = false
		return "", errors.New("create failed")
	}
	f.nextID++
	f.created = append(f.created, req)
	return req.Type, nil
}

func (f *fakeSubAPI) DeleteSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSubAPI) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeHandler struct {
	mu         sync.Mutex
	info       []string
	errors     []TopicKey
	revoked    []TopicKey
	welcomed   []int
	lost       [][]*Subscription
	recvCount  int
}

func (h *fakeHandler) onRecv(sessionIdx int, subscriptionType string, event json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recvCount++
}

func (h *fakeHandler) onSendInfo(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info = append(h.info, text)
}

func (h *fakeHandler) onRegisterError(sessionIdx int, key TopicKey, statusCode int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, key)
}

func (h *fakeHandler) onRevoked(key TopicKey, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revoked = append(h.revoked, key)
}

func (h *fakeHandler) onSessionWelcomed(sessionIdx int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.welcomed = append(h.welcomed, sessionIdx)
}

func (h *fakeHandler) onSessionLost(subs []*Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = append(h.lost, subs)
}

func (h *fakeHandler) infoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.info)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.Setup(logger.Config{Level: -10})
	if err != nil {
		t.Fatalf("logger.Setup: %v", err)
	}
	return log
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		URI:            "wss://example.invalid/ws",
		Budget:         10,
		MaxSessions:    3,
		WelcomeTimeout: 15 * time.Second,
		KeepaliveGrace: 10 * time.Second,
		BackoffInitial: time.Second,
		BackoffMax:     30 * time.Second,
	}
}

func TestPoolSubmitCreateSuccess(t *testing.T) {
	api := &fakeSubAPI{}
	handler := &fakeHandler{}
	pool := NewConnectionPool(testPoolConfig(), api, handler, testLogger(t))

	s := NewSession(0, testPoolConfig().URI, time.Second, time.Second, pool)
	s.mu.Lock()
	s.state = SessionWelcomed
	s.sessionID = "sess-1"
	s.mu.Unlock()
	pool.sessions = []*Session{s}

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	pool.Place(context.Background(), sub, "100", "")

	deadline := time.After(time.Second)
	for sub.SubscriptionID == "" {
		select {
		case <-deadline:
			t.Fatal("subscription was never created")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if api.createdCount() != 1 {
		t.Errorf("created count = %d, want 1", api.createdCount())
	}
	if sub.SessionIndex != 0 {
		t.Errorf("SessionIndex = %d, want 0", sub.SessionIndex)
	}
}

func TestPoolSubmitCreateRateLimited(t *testing.T) {
	api := &fakeSubAPI{rateLimit: true}
	handler := &fakeHandler{}
	pool := NewConnectionPool(testPoolConfig(), api, handler, testLogger(t))

	s := NewSession(0, testPoolConfig().URI, time.Second, time.Second, pool)
	s.mu.Lock()
	s.state = SessionWelcomed
	s.sessionID = "sess-1"
	s.mu.Unlock()
	pool.sessions = []*Session{s}

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	pool.Place(context.Background(), sub, "100", "")

	deadline := time.After(time.Second)
	for handler.infoCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("rate-limit notification was never sent")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if handler.infoCount() != 1 {
		t.Errorf("info count = %d, want 1", handler.infoCount())
	}

	// A second rate-limited placement should not notify again.
	sub2 := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan2"})
	pool.Place(context.Background(), sub2, "200", "")
	time.Sleep(20 * time.Millisecond)
	if handler.infoCount() != 1 {
		t.Errorf("info count after second rate limit = %d, want 1 (one-per-run)", handler.infoCount())
	}
}

func TestPoolPlaceCapacityExhausted(t *testing.T) {
	api := &fakeSubAPI{}
	handler := &fakeHandler{}
	cfg := testPoolConfig()
	cfg.MaxSessions = 1
	pool := NewConnectionPool(cfg, api, handler, testLogger(t))

	s := NewSession(0, cfg.URI, time.Second, time.Second, pool)
	s.mu.Lock()
	s.state = SessionWelcomed
	s.usedCost = cfg.Budget
	s.mu.Unlock()
	pool.sessions = []*Session{s}

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	pool.Place(context.Background(), sub, "100", "")

	if handler.infoCount() != 1 {
		t.Errorf("info count = %d, want 1", handler.infoCount())
	}
}

func TestPoolRemoveIssuesDelete(t *testing.T) {
	api := &fakeSubAPI{}
	handler := &fakeHandler{}
	pool := NewConnectionPool(testPoolConfig(), api, handler, testLogger(t))

	s := NewSession(0, testPoolConfig().URI, time.Second, time.Second, pool)
	s.mu.Lock()
	s.state = SessionWelcomed
	s.mu.Unlock()
	pool.sessions = []*Session{s}

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	s.Place(sub, 10)
	sub.SubscriptionID = "abc"

	pool.Remove(context.Background(), sub)

	deadline := time.After(time.Second)
	for len(api.deleted) == 0 {
		select {
		case <-deadline:
			t.Fatal("DeleteSubscription was never called")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if api.deleted[0] != "abc" {
		t.Errorf("deleted id = %q, want %q", api.deleted[0], "abc")
	}
}

func TestPoolOnRevocationRemovesAndReports(t *testing.T) {
	api := &fakeSubAPI{}
	handler := &fakeHandler{}
	pool := NewConnectionPool(testPoolConfig(), api, handler, testLogger(t))

	s := NewSession(0, testPoolConfig().URI, time.Second, time.Second, pool)
	s.mu.Lock()
	s.state = SessionWelcomed
	s.mu.Unlock()
	pool.sessions = []*Session{s}

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	s.Place(sub, 10)
	sub.SubscriptionID = "abc"

	pool.OnRevocation(s, "abc", "authorization_revoked")

	if len(handler.revoked) != 1 || handler.revoked[0] != sub.Key {
		t.Errorf("revoked = %v, want [%v]", handler.revoked, sub.Key)
	}
	if len(s.Placed()) != 0 {
		t.Error("revoked subscription should be removed from the session")
	}
}

// fakeEventSubServer accepts websocket connections, greets each with a
// session_welcome frame carrying a fresh session id, then blocks reading
// until the connection is closed by either side.
type fakeEventSubServer struct {
	mu    sync.Mutex
	seq   int
	conns []*websocket.Conn
}

func newFakeEventSubServer(t *testing.T) (*httptest.Server, *fakeEventSubServer) {
	t.Helper()
	fs := &fakeEventSubServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		fs.mu.Lock()
		fs.seq++
		id := fmt.Sprintf("sess-%d", fs.seq)
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		welcome := fmt.Sprintf(`{"metadata":{"message_type":"session_welcome"},"payload":{"session":{"id":%q,"status":"connected","keepalive_timeout_seconds":30}}}`, id)
		if err := conn.Write(r.Context(), websocket.MessageText, []byte(welcome)); err != nil {
			return
		}

		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, fs
}

func (fs *fakeEventSubServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

// closeConn closes the server side of the idx'th accepted connection,
// simulating an unplanned disconnect for whichever Session dialed it.
func (fs *fakeEventSubServer) closeConn(idx int) {
	fs.mu.Lock()
	conn := fs.conns[idx]
	fs.mu.Unlock()
	conn.Close(websocket.StatusInternalError, "simulated disconnect")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition was not met in time")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// TestPoolSecondSessionReopensAfterDisconnect exercises Place's
// capacity-growth branch opening a second Session, then simulates that
// Session disconnecting for reasons other than a handoff. It must be
// resupervised and reopened at the same index rather than abandoned, and
// the pool's tracked session count must stay bounded by MaxSessions.
func TestPoolSecondSessionReopensAfterDisconnect(t *testing.T) {
	srv, fs := newFakeEventSubServer(t)

	api := &fakeSubAPI{}
	handler := &fakeHandler{}
	cfg := testPoolConfig()
	cfg.URI = wsURL(srv.URL)
	cfg.MaxSessions = 2
	cfg.Budget = 10
	cfg.WelcomeTimeout = 2 * time.Second
	cfg.KeepaliveGrace = 2 * time.Second
	cfg.BackoffInitial = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	pool := NewConnectionPool(cfg, api, handler, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	waitFor(t, 2*time.Second, pool.AnyWelcomed)

	pool.mu.Lock()
	first := pool.sessions[0]
	pool.mu.Unlock()
	first.mu.Lock()
	first.usedCost = cfg.Budget
	first.mu.Unlock()

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	sub.ExpectedCost = 1
	pool.Place(ctx, sub, "100", "")

	waitFor(t, 2*time.Second, func() bool { return pool.ConnectionCount() == 2 })
	waitFor(t, 2*time.Second, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.sessions[1].State() == SessionWelcomed
	})
	waitFor(t, 2*time.Second, func() bool { return fs.connCount() == 2 })

	// Simulate the second Session's connection dying for a reason other
	// than a handoff (keepalive trip, network blip).
	fs.closeConn(1)

	waitFor(t, 2*time.Second, func() bool { return fs.connCount() == 3 })
	waitFor(t, 2*time.Second, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.sessions) == 2 && pool.sessions[1].State() == SessionWelcomed
	})

	if got := pool.ConnectionCount(); got != 2 {
		t.Errorf("ConnectionCount after reopen = %d, want 2 (reused slot, no unbounded growth)", got)
	}
}
