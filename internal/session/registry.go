// Package session tracks open peer links: Peer owns one connection and
// serializes writes to it, Registry maps device ids to peers.
package session

import (
	"errors"
	"slices"
	"sync"
)

// ErrAlreadyConnected is returned by Register when the id is taken.
var ErrAlreadyConnected = errors.New("session: already connected")

// Entry is one registry record returned by Drain.
type Entry struct {
	ID   string
	Peer *Peer
}

// Registry maps device ids to peers, at most one peer per id. All
// structural changes hold one mutex. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	order []string // insertion order of peers' keys
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Register adds p under id. It never replaces an existing entry.
func (r *Registry) Register(id string, p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; ok {
		return ErrAlreadyConnected
	}
	r.peers[id] = p
	r.order = append(r.order, id)
	return nil
}

// Unregister removes and returns the peer for id, if any.
func (r *Registry) Unregister(id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	r.removeLocked(id)
	return p, true
}

// Remove deletes id only while it still maps to p. Link-loss handlers use
// it so a stale callback cannot evict a newer connection.
func (r *Registry) Remove(id string, p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[id]; !ok || cur != p {
		return false
	}
	r.removeLocked(id)
	return true
}

func (r *Registry) removeLocked(id string) {
	delete(r.peers, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// Lookup returns the peer registered under id.
func (r *Registry) Lookup(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// IDs returns registered ids in insertion order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Drain empties the registry and returns every entry in insertion order.
// No drained peer is visible to Lookup afterwards.
func (r *Registry) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, Entry{ID: id, Peer: r.peers[id]})
	}
	r.peers = make(map[string]*Peer)
	r.order = nil
	return entries
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
