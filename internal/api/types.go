package api

// helixUser is one entry of a GET /helix/users response.
type helixUser struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

type helixUsersResponse struct {
	Data []helixUser `json:"data"`
}

// helixSubscription is one entry of a POST/GET /helix/eventsub/subscriptions
// response.
type helixSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Type   string `json:"type"`
	Cost   int    `json:"cost"`
}

type helixSubscriptionResponse struct {
	Data  []helixSubscription `json:"data"`
	Total int                 `json:"total"`
}

// helixError is the shape of a Helix error body.
type helixError struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}
