package eventsub

import (
	"context"
	"testing"
)

type fakeLookup struct {
	ids map[string]string
}

func (f *fakeLookup) LookupUserID(ctx context.Context, login string) (string, bool, error) {
	id, ok := f.ids[login]
	return id, ok, nil
}

func TestTopicKeyString(t *testing.T) {
	k := TopicKey{Kind: TopicRaid, ChannelLogin: "someone"}
	if got, want := k.String(), "channel.raid:someone"; got != want {
		t.Errorf("TopicKey.String() = %q, want %q", got, want)
	}
}

func TestNewSubscriptionCost(t *testing.T) {
	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "x"})
	if sub.ExpectedCost != 1 {
		t.Errorf("raid subscription cost = %d, want 1", sub.ExpectedCost)
	}
	if sub.SessionIndex != -1 {
		t.Errorf("new subscription SessionIndex = %d, want -1", sub.SessionIndex)
	}

	sub2 := newSubscription(TopicKey{Kind: TopicPollBegin, ChannelLogin: "x"})
	if sub2.ExpectedCost != 0 {
		t.Errorf("poll.begin subscription cost = %d, want 0", sub2.ExpectedCost)
	}
}

func TestSubscriptionReady(t *testing.T) {
	resolver := NewIdResolver(&fakeLookup{ids: map[string]string{"chan1": "100"}}, 16)
	resolver.SetLocalUsername("mod1")

	done := make(chan struct{})
	resolver.WaitForID(context.Background(), "chan1", func(id string, found bool, err error) { close(done) })
	<-done

	sub := newSubscription(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"})
	_, _, ok := sub.ready(resolver)
	if !ok {
		t.Fatal("raid subscription should be ready once broadcaster id is cached")
	}

	shieldSub := newSubscription(TopicKey{Kind: TopicShieldBegin, ChannelLogin: "chan1"})
	if _, _, ok := shieldSub.ready(resolver); ok {
		t.Fatal("shield subscription should not be ready before local id resolves")
	}

	resolver.WaitForID(context.Background(), "mod1", func(id string, found bool, err error) {})
	// mod1 was never registered in fakeLookup, so it resolves not-found and
	// LocalID should still report unresolved.
	if _, ok := resolver.LocalID(); ok {
		t.Fatal("LocalID should be unresolved for a login the API does not recognize")
	}
}

func TestBuildCreateRequest(t *testing.T) {
	body, ok := buildCreateRequest(TopicKey{Kind: TopicRaid, ChannelLogin: "chan1"}, "100", "", "session-abc")
	if !ok {
		t.Fatal("buildCreateRequest returned false for a known topic kind")
	}
	if body.Type != "channel.raid" {
		t.Errorf("Type = %q, want %q", body.Type, "channel.raid")
	}
	if body.Condition["from_broadcaster_user_id"] != "100" {
		t.Errorf("condition broadcaster id = %q, want %q", body.Condition["from_broadcaster_user_id"], "100")
	}
	if body.Transport.SessionID != "session-abc" {
		t.Errorf("Transport.SessionID = %q, want %q", body.Transport.SessionID, "session-abc")
	}
}

func TestBuildCreateRequestUnknownKind(t *testing.T) {
	if _, ok := buildCreateRequest(TopicKey{Kind: TopicKind(999)}, "1", "2", "s"); ok {
		t.Fatal("buildCreateRequest should fail for an unknown topic kind")
	}
}
