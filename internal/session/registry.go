// Package session tracks which players the bridge has seen and latches the
// signals that must reach clients only once per process.
package session

import "sync"

// Registry is the set of observed player ids. Membership is a set, but
// registration order is kept so "the first player" is well defined.
type Registry struct {
	mu             sync.RWMutex
	order          []string
	members        map[string]struct{}
	quorumSignaled bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: map[string]struct{}{}}
}

// Register adds playerID and reports whether it was new.
func (r *Registry) Register(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[playerID]; ok {
		return false
	}
	r.members[playerID] = struct{}{}
	r.order = append(r.order, playerID)
	return true
}

// Remove drops playerID and reports whether it was present.
func (r *Registry) Remove(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[playerID]; !ok {
		return false
	}
	delete(r.members, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether playerID is currently registered.
func (r *Registry) Contains(playerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[playerID]
	return ok
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Players returns the current members in registration order.
func (r *Registry) Players() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// First returns the earliest-registered current member.
func (r *Registry) First() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[0], true
}

// CheckQuorum returns true on the first call where Size() >= threshold and
// false on every other call for the lifetime of the registry, whatever the
// size does afterwards.
func (r *Registry) CheckQuorum(threshold int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quorumSignaled || len(r.members) < threshold {
		return false
	}
	r.quorumSignaled = true
	return true
}

// QuorumSignaled reports whether CheckQuorum has already fired.
func (r *Registry) QuorumSignaled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quorumSignaled
}
