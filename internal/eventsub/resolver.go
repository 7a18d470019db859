package eventsub

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// UserIDLookup is the subset of the API collaborator the
// IdResolver needs: resolving one login to its numeric user id.
type UserIDLookup interface {
	LookupUserID(ctx context.Context, login string) (id string, found bool, err error)
}

// IdCallback receives the outcome of a WaitForID call. found is false when
// the API reports the login does not exist; err is set on a transport/API
// failure, in which case the login is not cached and a later call retries.
type IdCallback func(id string, found bool, err error)

// IdResolver turns login strings into numeric user ids, caching results
// forever within a run and coalescing concurrent lookups of the same login
// into one underlying API call,.
type IdResolver struct {
	api UserIDLookup

	mu        sync.RWMutex
	loginToID *lru.Cache[string, string]
	idToLogin *lru.Cache[string, string]

	localMu    sync.RWMutex
	localLogin string

	group singleflight.Group
}

// NewIdResolver creates an IdResolver backed by api, with its NameToId cache
// bounded to cacheSize entries: an LRU keeps the "monotonic, never
// rewritten" guarantee on entries it holds while capping memory for
// long-running processes watching many channels.
func NewIdResolver(api UserIDLookup, cacheSize int) *IdResolver {
	loginToID, _ := lru.New[string, string](cacheSize)
	idToLogin, _ := lru.New[string, string](cacheSize)
	return &IdResolver{
		api:       api,
		loginToID: loginToID,
		idToLogin: idToLogin,
	}
}

// Lookup is the synchronous, non-blocking check used by Subscription
// readiness predicates: it never calls the API, only the cache.
func (r *IdResolver) Lookup(login string) (id string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loginToID.Get(login)
}

// SetLocalUsername records which login is "local" for this run. It does not
// itself resolve the id; callers should follow up with WaitForID(name, ...)
// so the local id lands in the same cache LocalID reads from.
func (r *IdResolver) SetLocalUsername(login string) {
	r.localMu.Lock()
	r.localLogin = login
	r.localMu.Unlock()
}

// LocalID returns the resolved id for the current local username, if any.
func (r *IdResolver) LocalID() (id string, ok bool) {
	r.localMu.RLock()
	login := r.localLogin
	r.localMu.RUnlock()
	if login == "" {
		return "", false
	}
	return r.Lookup(login)
}

// WaitForID guarantees cb fires exactly once. If login is already cached,
// cb fires synchronously before WaitForID returns. Otherwise one API call
// is issued per distinct in-flight login, shared across every concurrent
// caller via singleflight.
func (r *IdResolver) WaitForID(ctx context.Context, login string, cb IdCallback) {
	if id, ok := r.Lookup(login); ok {
		cb(id, true, nil)
		return
	}

	resultCh := r.group.DoChan(login, func() (interface{}, error) {
		id, found, err := r.api.LookupUserID(ctx, login)
		if err != nil {
			return nil, err
		}
		if found {
			r.mu.Lock()
			r.loginToID.Add(login, id)
			r.idToLogin.Add(id, login)
			r.mu.Unlock()
		}
		return found, nil
	})

	go func() {
		res := <-resultCh
		if res.Err != nil {
			cb("", false, fmt.Errorf("resolving %q: %w", login, res.Err))
			return
		}
		found := res.Val.(bool)
		if !found {
			cb("", false, nil)
			return
		}
		id, _ := r.Lookup(login)
		cb(id, true, nil)
	}()
}

// LoginFor is the reverse direction of the NameToId map (id -> login),
// exposed for diagnostics (status_text/topics_text).
func (r *IdResolver) LoginFor(id string) (login string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idToLogin.Get(id)
}
