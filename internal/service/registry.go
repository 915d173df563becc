// Package service implements the gateway domain: user accounts, address
// entities, addressable-target resolution, the payment order state machine
// and the chat command dispatcher.
package service

import (
	"sync"

	"github.com/wallet-gateway/internal/types"
)

// UserAccount is a user known to the gateway, keyed by bare identity. An
// account object can exist without being registered; registration is a
// separate, persisted fact. Equality is structural on the identity.
type UserAccount struct {
	Identity types.Identity
	Admin    bool

	mu             sync.Mutex
	username       string
	usernameLoaded bool
	resources      map[string]struct{}
}

// Equal reports whether two accounts denote the same identity.
func (u *UserAccount) Equal(other *UserAccount) bool {
	return other != nil && u.Identity == other.Identity
}

// cachedUsername returns the memoized username and whether it was loaded.
func (u *UserAccount) cachedUsername() (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.username, u.usernameLoaded
}

func (u *UserAccount) setCachedUsername(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.username = name
	u.usernameLoaded = true
}

func (u *UserAccount) invalidateUsername() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.username = ""
	u.usernameLoaded = false
}

// AddResource records a connected session resource.
func (u *UserAccount) AddResource(resource string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.resources == nil {
		u.resources = make(map[string]struct{})
	}
	u.resources[resource] = struct{}{}
}

// RemoveResource drops a session resource and returns how many remain.
func (u *UserAccount) RemoveResource(resource string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.resources, resource)
	return len(u.resources)
}

// Connected reports whether the user has at least one live session.
func (u *UserAccount) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.resources) > 0
}

// Registry is the process-scoped store of UserAccount objects, keyed by bare
// identity with a secondary index by username. It exists so session state and
// memoized usernames live on one object per identity; equality of accounts is
// still structural, never pointer identity.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[types.Identity]*UserAccount
	byUsername map[string]*UserAccount
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[types.Identity]*UserAccount),
		byUsername: make(map[string]*UserAccount),
	}
}

// LookupOrCreate returns the account for an identity, creating it on first
// reference. The identity is reduced to its bare form.
func (r *Registry) LookupOrCreate(identity types.Identity) *UserAccount {
	bare := identity.Bare()

	r.mu.RLock()
	u, ok := r.byIdentity[bare]
	r.mu.RUnlock()
	if ok {
		return u
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byIdentity[bare]; ok {
		return u
	}
	u = &UserAccount{Identity: bare}
	r.byIdentity[bare] = u
	return u
}

// ByUsername returns the account indexed under a username, if any.
func (r *Registry) ByUsername(name string) (*UserAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byUsername[name]
	return u, ok
}

// IndexUsername binds a username to an account, replacing the account's
// previous binding. An empty name only removes the old binding.
func (r *Registry) IndexUsername(name string, u *UserAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for existing, account := range r.byUsername {
		if account == u && existing != name {
			delete(r.byUsername, existing)
		}
	}
	if name != "" {
		r.byUsername[name] = u
	}
}

// Remove drops an account and its username binding, used on unregistration.
func (r *Registry) Remove(identity types.Identity) {
	bare := identity.Bare()
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byIdentity[bare]
	if !ok {
		return
	}
	delete(r.byIdentity, bare)
	for name, account := range r.byUsername {
		if account == u {
			delete(r.byUsername, name)
		}
	}
}
