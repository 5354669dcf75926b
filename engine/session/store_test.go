package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreUpdateCreatesSession(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now()

	err := st.Update("s1", now, func(s *Session) error {
		s.TurnCount++
		return nil
	})
	require.NoError(t, err)

	got, err := st.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TurnCount)
	assert.Equal(t, 1, st.Len())
}

func TestStoreGetUnknownSession(t *testing.T) {
	st := NewMemoryStore()
	_, err := st.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetReturnsSnapshot(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now()
	require.NoError(t, st.Update("s1", now, func(s *Session) error {
		s.FilledSlots["k"] = "v"
		return nil
	}))

	snap, err := st.Get("s1")
	require.NoError(t, err)
	snap.FilledSlots["k"] = "mutated"

	again, err := st.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.FilledSlots["k"])
}

func TestStoreUpdateSerializesTurns(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now()
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.Update("s1", now, func(s *Session) error {
				// Read-modify-write; lost updates would show as a short count.
				n := s.TurnCount
				s.TurnCount = n + 1
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := st.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.TurnCount)
}

func TestStoreExpired(t *testing.T) {
	st := NewMemoryStore()
	base := time.Now()

	require.NoError(t, st.Update("old", base.Add(-time.Hour), func(s *Session) error { return nil }))
	require.NoError(t, st.Update("fresh", base, func(s *Session) error { return nil }))

	expired := st.Expired(base, 30*time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)

	// Expired does not remove.
	assert.Equal(t, 2, st.Len())
}

func TestStoreRemove(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, st.Update("s1", time.Now(), func(s *Session) error { return nil }))
	st.Remove("s1")
	assert.Equal(t, 0, st.Len())
	_, err := st.Get("s1")
	assert.ErrorIs(t, err, ErrNotFound)
}
