package eventsub

import "fmt"

// TopicKey identifies a desired subscription. Equality is (Kind,
// ChannelLogin); it is used as a map key directly so its
// hash is automatically consistent with equality.
type TopicKey struct {
	Kind         TopicKind
	ChannelLogin string
}

func (k TopicKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ChannelLogin)
}

// Subscription is the desired-state record for one server-side subscription.
// A Subscription is added to the Manager's subs map (pending) on listen and
// placed on a Session once ready; it is never duplicated per TopicKey (§3 invariant).
type Subscription struct {
	Key          TopicKey
	ExpectedCost int

	// SubscriptionID is the server-assigned id, set once a create-
	// subscription request succeeds. Empty while pending or unplaced.
	SubscriptionID string
	// SessionIndex is the owning Session's local index once placed, or -1
	// if the Subscription has not yet been placed on any Session.
	SessionIndex int

	// resolvedHint remembers the ids used to build the last create
	// request, so a reconnect handoff can re-submit the same Subscription
	// against a new session_id without re-querying the resolver.
	resolvedHint struct {
		broadcaster string
		local       string
	}
}

// newSubscription builds the pending record for key; cost is filled in from
// the topic descriptor table.
func newSubscription(key TopicKey) *Subscription {
	cost := 0
	if d, ok := topicDescriptors[key.Kind]; ok {
		cost = d.cost
	}
	return &Subscription{
		Key:          key,
		ExpectedCost: cost,
		SessionIndex: -1,
	}
}

// ready reports whether every identifier key's topic kind requires has
// been resolved, using resolver's synchronous, non-blocking Lookup.
func (s *Subscription) ready(resolver *IdResolver) (broadcasterID, localID string, ok bool) {
	d, known := topicDescriptors[s.Key.Kind]
	if !known {
		return "", "", false
	}

	if d.required&requireBroadcaster != 0 {
		id, found := resolver.Lookup(s.Key.ChannelLogin)
		if !found {
			return "", "", false
		}
		broadcasterID = id
	}
	if d.required&requireLocal != 0 {
		id, found := resolver.LocalID()
		if !found {
			return "", "", false
		}
		localID = id
	}
	return broadcasterID, localID, true
}

// createRequestBody is the JSON body posted to the create-subscription
// Helix endpoint: a pure function of (variant, resolved ids, session_id).
type createRequestBody struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport transportBody     `json:"transport"`
}

type transportBody struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// buildCreateRequest renders the create-subscription body for s, given its
// already-resolved ids and the session_id of the Session it is being
// placed on. Returns false if the topic kind is unknown.
func buildCreateRequest(key TopicKey, broadcasterID, localID, sessionID string) (createRequestBody, bool) {
	d, ok := topicDescriptors[key.Kind]
	if !ok {
		return createRequestBody{}, false
	}

	condition := make(map[string]string, len(d.conditionFields))
	for field, which := range d.conditionFields {
		switch which {
		case "broadcaster":
			condition[field] = broadcasterID
		case "local":
			condition[field] = localID
		}
	}

	return createRequestBody{
		Type:      d.typeString,
		Version:   d.version,
		Condition: condition,
		Transport: transportBody{Method: "websocket", SessionID: sessionID},
	}, true
}
