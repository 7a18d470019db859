package eventsub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

type fakeManagerAPI struct {
	mu      sync.Mutex
	ids     map[string]string
	created []SubscriptionRequest
}

func newFakeManagerAPI(ids map[string]string) *fakeManagerAPI {
	return &fakeManagerAPI{ids: ids}
}

func (a *fakeManagerAPI) LookupUserID(ctx context.Context, login string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.ids[login]
	return id, ok, nil
}

func (a *fakeManagerAPI) CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, req)
	return req.Type + ":id", nil
}

func (a *fakeManagerAPI) DeleteSubscription(ctx context.Context, id string) error {
	return nil
}

func (a *fakeManagerAPI) GetSubscriptions(ctx context.Context) ([]SubscriptionStatus, error) {
	return nil, nil
}

func (a *fakeManagerAPI) createdCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.created)
}

type fakeListener struct {
	mu      sync.Mutex
	infos   []string
	events  []string
	statuses []string
}

func (l *fakeListener) Info(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, text)
}

func (l *fakeListener) Event(subscriptionType string, payload json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, subscriptionType)
}

func (l *fakeListener) StatusChanged(summary string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, summary)
}

func newTestManager(t *testing.T, api *fakeManagerAPI) *Manager {
	t.Helper()
	cfg := ManagerConfig{Pool: testPoolConfig()}
	return NewManager(cfg, api, noopAuthProvider{}, &fakeListener{}, testLogger(t))
}

type noopAuthProvider struct{}

func (noopAuthProvider) AuthToken() string               { return "" }
func (noopAuthProvider) GetAuthHeaders() map[string]string { return nil }
func (noopAuthProvider) TokenUpdated(token string)        {}

func TestManagerListenRaidDeduplicatesAcrossCallers(t *testing.T) {
	api := newFakeManagerAPI(map[string]string{"chan1": "100"})
	m := newTestManager(t, api)

	m.ListenRaid("chan1")
	m.ListenRaid("chan1")

	m.mu.Lock()
	count := len(m.subs)
	m.mu.Unlock()
	if count != 1 {
		t.Fatalf("subs count after double ListenRaid = %d, want 1", count)
	}

	m.UnlistenRaid("chan1")
	m.mu.Lock()
	count = len(m.subs)
	m.mu.Unlock()
	if count != 1 {
		t.Fatalf("subs count after single UnlistenRaid of two listeners = %d, want 1", count)
	}

	m.UnlistenRaid("chan1")
	m.mu.Lock()
	count = len(m.subs)
	m.mu.Unlock()
	if count != 0 {
		t.Fatalf("subs count after both UnlistenRaid calls = %d, want 0", count)
	}
}

func TestManagerListenPollCreatesTwoTopics(t *testing.T) {
	api := newFakeManagerAPI(map[string]string{"chan1": "100"})
	m := newTestManager(t, api)

	m.ListenPoll("chan1")

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[TopicKey{Kind: TopicPollBegin, ChannelLogin: "chan1"}]; !ok {
		t.Error("missing poll.begin subscription")
	}
	if _, ok := m.subs[TopicKey{Kind: TopicPollEnd, ChannelLogin: "chan1"}]; !ok {
		t.Error("missing poll.end subscription")
	}
}

func TestManagerUnlistenUnknownIsNoop(t *testing.T) {
	api := newFakeManagerAPI(nil)
	m := newTestManager(t, api)
	m.UnlistenShoutouts("never-listened")
}

func TestManagerAttemptPlaceWaitsForResolution(t *testing.T) {
	api := newFakeManagerAPI(map[string]string{})
	m := newTestManager(t, api)

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	m.mu.Lock()
	m.subs[sub.Key] = sub
	m.mu.Unlock()

	m.attemptPlace(context.Background(), sub)
	if sub.SessionIndex != -1 {
		t.Error("subscription should remain unplaced until the broadcaster id resolves")
	}
}

func TestManagerOnSessionLostReturnsSubsToPending(t *testing.T) {
	api := newFakeManagerAPI(map[string]string{"chan1": "100"})
	m := newTestManager(t, api)

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	sub.SessionIndex = 0
	sub.SubscriptionID = "abc"
	m.mu.Lock()
	m.subs[sub.Key] = sub
	m.mu.Unlock()

	m.onSessionLost([]*Subscription{sub})

	if sub.SessionIndex != -1 {
		t.Errorf("SessionIndex after onSessionLost = %d, want -1", sub.SessionIndex)
	}
	if sub.SubscriptionID != "" {
		t.Errorf("SubscriptionID after onSessionLost = %q, want empty", sub.SubscriptionID)
	}
}

func TestManagerOnRevokedForgetsSubscription(t *testing.T) {
	api := newFakeManagerAPI(nil)
	m := newTestManager(t, api)

	key := TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"}
	m.mu.Lock()
	m.subs[key] = newSubscription(key)
	m.mu.Unlock()

	m.onRevoked(key, "authorization_revoked")

	m.mu.Lock()
	_, exists := m.subs[key]
	m.mu.Unlock()
	if exists {
		t.Error("revoked subscription should be forgotten")
	}
}

func TestManagerTopicsText(t *testing.T) {
	api := newFakeManagerAPI(nil)
	m := newTestManager(t, api)

	key := TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"}
	m.mu.Lock()
	m.subs[key] = newSubscription(key)
	m.mu.Unlock()

	text := m.TopicsText()
	if text == "" {
		t.Error("TopicsText should not be empty once a subscription is known")
	}
}
