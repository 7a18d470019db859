package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/tduva/eventsub-go/internal/auth"
	"github.com/tduva/eventsub-go/internal/constants"
	"github.com/tduva/eventsub-go/internal/eventsub"
	"github.com/tduva/eventsub-go/internal/logger"
)

// ErrCircuitOpen is returned when the circuit breaker is open and requests
// are being skipped to avoid hammering a failing API.
var ErrCircuitOpen = errors.New("api: circuit breaker open, requests temporarily suspended")

// circuitBreaker tracks consecutive failures and backs off when the Helix
// API is unhealthy, independent of the per-request retry loop.
type circuitBreaker struct {
	consecutiveFails int
	cooldownUntil    time.Time
}

func (cb *circuitBreaker) recordSuccess() {
	cb.consecutiveFails = 0
}

func (cb *circuitBreaker) recordFailure() {
	cb.consecutiveFails++
	if cb.consecutiveFails >= 10 {
		backoff := time.Duration(cb.consecutiveFails-9) * 30 * time.Second
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		cb.cooldownUntil = time.Now().Add(backoff)
	}
}

func (cb *circuitBreaker) shouldSkip() bool {
	return time.Now().Before(cb.cooldownUntil)
}

// Client is the Helix HTTP client backing eventsub's SubscriptionAPI and
// UserIDLookup collaborator contracts: connection-pooled, retried with
// exponential backoff on transient failures, and circuit-broken after
// sustained failure.
type Client struct {
	httpClient *http.Client
	auth       auth.Provider
	clientID   string
	log        *logger.Logger

	breaker    *circuitBreaker
	maxRetries int
}

// NewClient creates a Helix API Client backed by authenticator.
func NewClient(authenticator auth.Provider, clientID string, log *logger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: constants.DefaultHTTPTimeout},
		auth:       authenticator,
		clientID:   clientID,
		log:        log,
		breaker:    &circuitBreaker{},
		maxRetries: constants.DefaultMaxRetries,
	}
}

// LookupUserID implements eventsub.UserIDLookup.
func (c *Client) LookupUserID(ctx context.Context, login string) (id string, found bool, err error) {
	q := url.Values{"login": {login}}
	body, err := c.doRequest(ctx, http.MethodGet, constants.HelixUsersEndpoint+"?"+q.Encode(), nil, "lookup_user_id")
	if err != nil {
		return "", false, err
	}

	var resp helixUsersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("parsing users response: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", false, nil
	}
	return resp.Data[0].ID, true, nil
}

// CreateSubscription implements eventsub.SubscriptionAPI.
func (c *Client) CreateSubscription(ctx context.Context, req eventsub.SubscriptionRequest) (id string, err error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling subscription request: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, constants.HelixEventSubSubscriptionsEndpoint, jsonBody, "create_subscription")
	if err != nil {
		return "", err
	}

	var resp helixSubscriptionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing create-subscription response: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("create-subscription response had no data")
	}
	return resp.Data[0].ID, nil
}

// DeleteSubscription implements eventsub.SubscriptionAPI.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	q := url.Values{"id": {id}}
	_, err := c.doRequest(ctx, http.MethodDelete, constants.HelixEventSubSubscriptionsEndpoint+"?"+q.Encode(), nil, "delete_subscription")
	return err
}

// GetSubscriptions lists every currently server-side-active subscription,
// used to reconcile desired vs. realized state after a reconnect gap.
func (c *Client) GetSubscriptions(ctx context.Context) ([]eventsub.SubscriptionStatus, error) {
	body, err := c.doRequest(ctx, http.MethodGet, constants.HelixEventSubSubscriptionsEndpoint, nil, "get_subscriptions")
	if err != nil {
		return nil, err
	}

	var resp helixSubscriptionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing subscriptions response: %w", err)
	}

	out := make([]eventsub.SubscriptionStatus, len(resp.Data))
	for i, s := range resp.Data {
		out[i] = eventsub.SubscriptionStatus{ID: s.ID, Type: s.Type, Status: s.Status, Cost: s.Cost}
	}
	return out, nil
}

// doRequest performs a single Helix HTTP call with auth headers and retry
// logic for transient errors (network failure, 429, 5xx). A 429 response
// is surfaced as eventsub.ErrRateLimited, wrapped so the pool can detect it
// with errors.Is without knowing about HTTP at all.
func (c *Client) doRequest(ctx context.Context, method, targetURL string, jsonBody []byte, opName string) ([]byte, error) {
	if c.breaker.shouldSkip() {
		c.log.Debug("circuit breaker open, skipping request", "operation", opName)
		return nil, ErrCircuitOpen
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			c.log.Debug("retrying helix request", "operation", opName, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, targetURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("building %s request: %w", opName, err)
		}
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range c.auth.GetAuthHeaders() {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				continue
			}
			c.breaker.recordFailure()
			return nil, fmt.Errorf("helix request %s failed: %w", opName, err)
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			if attempt < c.maxRetries {
				continue
			}
			c.breaker.recordFailure()
			return nil, fmt.Errorf("reading helix response for %s: %w", opName, readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt < c.maxRetries {
				continue
			}
			c.breaker.recordFailure()
			return nil, fmt.Errorf("helix request %s: %w", opName, eventsub.ErrRateLimited)
		}

		if resp.StatusCode >= 500 {
			if attempt < c.maxRetries {
				continue
			}
			c.breaker.recordFailure()
			return nil, fmt.Errorf("helix request %s returned status %d after %d retries", opName, resp.StatusCode, c.maxRetries)
		}

		if resp.StatusCode >= 400 {
			var herr helixError
			_ = json.Unmarshal(body, &herr)
			c.breaker.recordFailure()
			return nil, fmt.Errorf("helix request %s returned status %d: %s", opName, resp.StatusCode, herr.Message)
		}

		c.breaker.recordSuccess()
		return body, nil
	}

	return nil, fmt.Errorf("helix request %s exhausted retries", opName)
}
