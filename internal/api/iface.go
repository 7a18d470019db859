// Package api implements the Helix HTTP collaborator the eventsub package
// depends on: resolving logins to user ids, and creating/listing/deleting
// EventSub subscriptions.
package api

import "github.com/tduva/eventsub-go/internal/eventsub"

// EventSubAPI is the full collaborator contract eventsub.Manager needs:
// user-id resolution plus subscription lifecycle management. *Client
// satisfies this; eventsub.NewManager asks for the same three interfaces
// through its own unexported managerAPI.
type EventSubAPI interface {
	eventsub.UserIDLookup
	eventsub.SubscriptionAPI
	eventsub.SubscriptionAuditor
}
