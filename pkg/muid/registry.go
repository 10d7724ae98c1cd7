package muid

import (
	"fmt"
	"math/rand/v2"
)

// maxGenerateAttempts bounds the retry loop in Generate.
const maxGenerateAttempts = 1024

// Identity is whatever a peer reported about itself when it was registered.
// Two registrations of the same MUID with different identities collide.
type Identity interface {
	comparable
}

// Registry allocates the local MUID and tracks peer MUIDs.
//
// Registry is not safe for concurrent use; callers serialize access together
// with the state machine that owns it.
type Registry[I Identity] struct {
	own   MUID
	peers map[MUID]I

	rand func() uint32

	onInvalidate func(MUID)
}

// NewRegistry creates a registry with a freshly generated own MUID.
// A nil source uses math/rand/v2.
func NewRegistry[I Identity](source func() uint32) *Registry[I] {
	if source == nil {
		source = rand.Uint32
	}
	r := &Registry[I]{
		peers: make(map[MUID]I),
		rand:  source,
	}
	own, err := r.Generate()
	if err != nil {
		// Only reachable with a degenerate source; fall back to the
		// first non-reserved value.
		own = 0
	}
	r.own = own
	return r
}

// Own returns the local MUID.
func (r *Registry[I]) Own() MUID {
	return r.own
}

// SetOwn replaces the local MUID (e.g. from configuration).
func (r *Registry[I]) SetOwn(m MUID) error {
	if !m.IsValid() || m.IsReserved() {
		return fmt.Errorf("%w: %s", ErrInvalidMUID, m)
	}
	if _, ok := r.peers[m]; ok {
		return fmt.Errorf("%w: %s is a registered peer", ErrCollision, m)
	}
	r.own = m
	return nil
}

// Generate returns a random non-reserved MUID that is not the own MUID and
// not a registered peer. It does not change the registry.
func (r *Registry[I]) Generate() (MUID, error) {
	for range maxGenerateAttempts {
		m := MUID(r.rand() & uint32(Max))
		if m.IsReserved() {
			continue
		}
		if r.Known(m) {
			continue
		}
		return m, nil
	}
	return 0, ErrExhausted
}

// Regenerate replaces the own MUID with a fresh one and returns the old value.
func (r *Registry[I]) Regenerate() (old MUID, err error) {
	m, err := r.Generate()
	if err != nil {
		return r.own, err
	}
	old, r.own = r.own, m
	return old, nil
}

// Known reports whether m is the own MUID or a registered peer.
func (r *Registry[I]) Known(m MUID) bool {
	if m == r.own {
		return true
	}
	_, ok := r.peers[m]
	return ok
}

// Peer returns the identity registered for m.
func (r *Registry[I]) Peer(m MUID) (I, bool) {
	id, ok := r.peers[m]
	return id, ok
}

// RegisterPeer records a peer MUID. Registering the same MUID again with the
// same identity is a no-op; a different identity, the own MUID, or a reserved
// value is a collision and leaves the registry unchanged.
func (r *Registry[I]) RegisterPeer(m MUID, identity I) error {
	if !m.IsValid() || m.IsReserved() {
		return fmt.Errorf("%w: %s", ErrInvalidMUID, m)
	}
	if m == r.own {
		return fmt.Errorf("%w: %s is the local MUID", ErrCollision, m)
	}
	if existing, ok := r.peers[m]; ok && existing != identity {
		return fmt.Errorf("%w: %s already registered for another device", ErrCollision, m)
	}
	r.peers[m] = identity
	return nil
}

// Invalidate removes a peer MUID and notifies the invalidate hook.
// It reports whether the MUID was registered.
func (r *Registry[I]) Invalidate(m MUID) bool {
	if _, ok := r.peers[m]; !ok {
		return false
	}
	delete(r.peers, m)
	if r.onInvalidate != nil {
		r.onInvalidate(m)
	}
	return true
}

// InvalidateAll removes every peer.
func (r *Registry[I]) InvalidateAll() {
	for m := range r.peers {
		r.Invalidate(m)
	}
}

// OnInvalidate sets the hook called after a peer is removed.
func (r *Registry[I]) OnInvalidate(fn func(MUID)) {
	r.onInvalidate = fn
}

// Peers returns the registered peer MUIDs in no particular order.
func (r *Registry[I]) Peers() []MUID {
	out := make([]MUID, 0, len(r.peers))
	for m := range r.peers {
		out = append(out, m)
	}
	return out
}

// Len returns the number of registered peers.
func (r *Registry[I]) Len() int {
	return len(r.peers)
}
