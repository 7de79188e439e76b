package session

import (
	"sync"

	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/bradfitz/slice"
	"github.com/pkg/errors"
)

// Registry owns every session record, keyed by device address. No other
// component retains a session reference across an asynchronous boundary.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Find resolves a session by device address.
func (r *Registry) Find(addr string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[NormalizeAddr(addr)]
	return s, ok
}

// Create adds a session for a newly connected device. Duplicates are
// rejected, not overwritten.
func (r *Registry) Create(addr string, addrType AddrType) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := NormalizeAddr(addr)
	if _, ok := r.sessions[key]; ok {
		return nil, errors.Wrapf(uds.ErrInvalidParameter, "session for %s already exists", key)
	}
	s := NewSession(addr, addrType)
	r.sessions[key] = s
	return s, nil
}

// Delete removes a session. Absent entries are ignored.
func (r *Registry) Delete(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, NormalizeAddr(addr))
}

// Clear drops every session.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = map[string]*Session{}
}

// All returns the sessions ordered by address.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	slice.Sort(all, func(i, j int) bool {
		return all[i].Addr < all[j].Addr
	})
	return all
}

// OnDisconnect applies the disconnect policy for the address: transient
// state is discarded always, and the record itself is removed unless the
// device was bonded. Returns the session if it was retained.
func (r *Registry) OnDisconnect(addr string) (*Session, bool) {
	s, ok := r.Find(addr)
	if !ok {
		return nil, false
	}
	bonded := s.Bonded()
	s.OnDisconnected()
	if !bonded {
		r.Delete(addr)
		return nil, false
	}
	return s, true
}
