package eventsub

import (
	"encoding/json"
	"testing"
	"time"
)

type fakeSessionEvents struct {
	welcomed          []int
	reconnects        []string
	notifications     []string
	revocations       []string
	closed            []error
}

func (f *fakeSessionEvents) OnWelcomed(s *Session) {
	f.welcomed = append(f.welcomed, s.Index())
}
func (f *fakeSessionEvents) OnReconnectRequested(s *Session, reconnectURL string) {
	f.reconnects = append(f.reconnects, reconnectURL)
}
func (f *fakeSessionEvents) OnNotification(s *Session, subscriptionType string, event json.RawMessage) {
	f.notifications = append(f.notifications, subscriptionType)
}
func (f *fakeSessionEvents) OnRevocation(s *Session, subscriptionID, status string) {
	f.revocations = append(f.revocations, subscriptionID)
}
func (f *fakeSessionEvents) OnClosed(s *Session, cause error) {
	f.closed = append(f.closed, cause)
}

func newTestSession(events SessionEvents) *Session {
	return NewSession(0, "wss://example.invalid/ws", 15*time.Second, 10*time.Second, events)
}

func TestSessionHandleWelcome(t *testing.T) {
	events := &fakeSessionEvents{}
	s := newTestSession(events)

	frame := `{"metadata":{"message_type":"session_welcome"},"payload":{"session":{"id":"sess-1","status":"connected","keepalive_timeout_seconds":30}}}`
	s.OnMessage([]byte(frame))

	if s.State() != SessionWelcomed {
		t.Errorf("state = %s, want WELCOMED", s.State())
	}
	if s.SessionID() != "sess-1" {
		t.Errorf("SessionID = %q, want %q", s.SessionID(), "sess-1")
	}
	if len(events.welcomed) != 1 {
		t.Errorf("OnWelcomed called %d times, want 1", len(events.welcomed))
	}
}

func TestSessionHandleNotification(t *testing.T) {
	events := &fakeSessionEvents{}
	s := newTestSession(events)

	frame := `{"metadata":{"message_type":"notification","subscription_type":"channel.raid"},"payload":{"subscription":{"id":"sub-1"},"event":{"from_broadcaster_user_id":"1"}}}`
	s.OnMessage([]byte(frame))

	if len(events.notifications) != 1 || events.notifications[0] != "channel.raid" {
		t.Errorf("notifications = %v, want [channel.raid]", events.notifications)
	}
}

func TestSessionHandleReconnect(t *testing.T) {
	events := &fakeSessionEvents{}
	s := newTestSession(events)

	frame := `{"metadata":{"message_type":"session_reconnect"},"payload":{"session":{"id":"sess-1","status":"reconnecting","reconnect_url":"wss://example.invalid/ws2"}}}`
	s.OnMessage([]byte(frame))

	if s.State() != SessionReconnecting {
		t.Errorf("state = %s, want RECONNECTING", s.State())
	}
	if len(events.reconnects) != 1 || events.reconnects[0] != "wss://example.invalid/ws2" {
		t.Errorf("reconnects = %v", events.reconnects)
	}
}

func TestSessionHandleRevocation(t *testing.T) {
	events := &fakeSessionEvents{}
	s := newTestSession(events)

	frame := `{"metadata":{"message_type":"revocation"},"payload":{"subscription":{"id":"sub-1","status":"authorization_revoked","type":"channel.raid"}}}`
	s.OnMessage([]byte(frame))

	if len(events.revocations) != 1 || events.revocations[0] != "sub-1" {
		t.Errorf("revocations = %v, want [sub-1]", events.revocations)
	}
}

func TestSessionOnMessageMalformedIgnored(t *testing.T) {
	events := &fakeSessionEvents{}
	s := newTestSession(events)
	s.OnMessage([]byte("not json"))
	if s.State() != SessionConnecting {
		t.Errorf("state after malformed frame = %s, want CONNECTING", s.State())
	}
}

func TestSessionPlaceRequiresWelcomed(t *testing.T) {
	s := newTestSession(&fakeSessionEvents{})
	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})

	if result := s.Place(sub, 10); result != PlaceNoSessionIDYet {
		t.Errorf("Place on a CONNECTING session = %v, want PlaceNoSessionIDYet", result)
	}
}

func TestSessionPlaceRespectsBudget(t *testing.T) {
	s := newTestSession(&fakeSessionEvents{})
	s.mu.Lock()
	s.state = SessionWelcomed
	s.mu.Unlock()

	sub1 := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	sub1.ExpectedCost = 8
	sub2 := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan2"})
	sub2.ExpectedCost = 8

	if result := s.Place(sub1, 10); result != PlaceSuccess {
		t.Fatalf("first Place = %v, want PlaceSuccess", result)
	}
	if result := s.Place(sub2, 10); result != PlaceCostExceeded {
		t.Fatalf("second Place = %v, want PlaceCostExceeded", result)
	}
	if s.UsedCost() != 8 {
		t.Errorf("UsedCost = %d, want 8", s.UsedCost())
	}
}

func TestSessionRemove(t *testing.T) {
	s := newTestSession(&fakeSessionEvents{})
	s.mu.Lock()
	s.state = SessionWelcomed
	s.mu.Unlock()

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	sub.ExpectedCost = 1
	s.Place(sub, 10)
	s.Remove(sub)

	if s.UsedCost() != 0 {
		t.Errorf("UsedCost after Remove = %d, want 0", s.UsedCost())
	}
	if len(s.Placed()) != 0 {
		t.Errorf("Placed() after Remove = %v, want empty", s.Placed())
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := newTestSession(&fakeSessionEvents{})
	s.Close("test")
	s.Close("test again")
}
