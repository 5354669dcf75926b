package session

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a session id has no live session.
var ErrNotFound = errors.New("session not found")

// Store holds live sessions. Update serializes all mutations for one session
// id, so concurrent turns on the same session observe sequential state.
type Store interface {
	// Update runs fn under the session's lock, creating the session when the
	// id is new. fn sees the live session and may mutate it freely.
	Update(id string, now time.Time, fn func(*Session) error) error
	// Get returns a snapshot copy of the session.
	Get(id string) (*Session, error)
	// Remove drops the session from the live set.
	Remove(id string)
	// Expired returns snapshot copies of sessions past the inactivity
	// timeout, without removing them.
	Expired(now time.Time, timeout time.Duration) []*Session
	// Len reports the number of live sessions.
	Len() int
}

type sessionEntry struct {
	mu   sync.Mutex
	sess *Session
}

// MemoryStore is the default in-process Store. A store-level mutex guards the
// map; a per-entry mutex serializes turns on each session.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*sessionEntry)}
}

func (st *MemoryStore) entry(id string, now time.Time, create bool) (*sessionEntry, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[id]
	if !ok {
		if !create {
			return nil, false
		}
		e = &sessionEntry{sess: New(id, now)}
		st.sessions[id] = e
	}
	return e, true
}

// Update implements Store. The entry lock is held for the whole of fn, which
// is what serializes concurrent turns on one session.
func (st *MemoryStore) Update(id string, now time.Time, fn func(*Session) error) error {
	e, _ := st.entry(id, now, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.sess)
}

// Get implements Store.
func (st *MemoryStore) Get(id string) (*Session, error) {
	e, ok := st.entry(id, time.Time{}, false)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

// Remove implements Store.
func (st *MemoryStore) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Expired implements Store.
func (st *MemoryStore) Expired(now time.Time, timeout time.Duration) []*Session {
	st.mu.Lock()
	entries := make([]*sessionEntry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.Unlock()

	var expired []*Session
	for _, e := range entries {
		e.mu.Lock()
		if e.sess.Expired(now, timeout) {
			expired = append(expired, e.sess.Clone())
		}
		e.mu.Unlock()
	}
	return expired
}

// Len implements Store.
func (st *MemoryStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

var _ Store = (*MemoryStore)(nil)
