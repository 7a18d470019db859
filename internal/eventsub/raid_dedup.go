package eventsub

import "sync"

// RaidTopicDeduper coalesces repeated listen_raid/unlisten_raid calls for
// the same channel into a single underlying Subscription: when a channel
// equals the local user's login, both the "raid leaving here" and
// "raid arriving here" call sites ask to listen on the same TopicKey, and
// naive listen/unlisten would let one side's unlisten drop the other
// side's subscription out from under it.
//
// State is a count-per-channel, keyed by channel login: the underlying
// Subscription is added on the first +1 and removed only on the transition
// back to 0, not on every unlisten call.
type RaidTopicDeduper struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRaidTopicDeduper creates an empty deduper.
func NewRaidTopicDeduper() *RaidTopicDeduper {
	return &RaidTopicDeduper{counts: make(map[string]int)}
}

// Listen records one more caller interested in channel's raid subscription.
// It returns true exactly when this is the first interested caller, i.e.
// when the Manager should actually create the Subscription.
func (d *RaidTopicDeduper) Listen(channel string) (shouldSubscribe bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[channel]++
	return d.counts[channel] == 1
}

// Unlisten records one fewer interested caller. It returns true exactly
// when the count has returned to zero, i.e. when the Manager should
// actually remove the Subscription. Unlisten on a channel with no
// outstanding Listen calls is a no-op that returns false.
func (d *RaidTopicDeduper) Unlisten(channel string) (shouldUnsubscribe bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts[channel] <= 0 {
		return false
	}
	d.counts[channel]--
	if d.counts[channel] == 0 {
		delete(d.counts, channel)
		return true
	}
	return false
}
