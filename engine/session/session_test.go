package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionStartsAwaitingQuery(t *testing.T) {
	now := time.Now()
	s := New("abc", now)

	assert.Equal(t, StateAwaitingQuery, s.State)
	assert.Equal(t, now, s.CreatedAt)
	assert.False(t, s.State.Terminal())
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateAwaitingQuery, false},
		{StateClarifying, false},
		{StateCollectingContext, false},
		{StateReadyToSend, false},
		{StateSent, true},
		{StateEscalated, true},
		{StateAbandoned, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestSetCandidateClearsSlots(t *testing.T) {
	s := New("abc", time.Now())
	s.SetCandidate("billing")
	s.FillSlot("account_id", "ACC-1")
	require.Equal(t, 1, s.PendingSlotIndex)

	s.SetCandidate("sales")
	assert.Empty(t, s.FilledSlots)
	assert.Equal(t, 0, s.PendingSlotIndex)
	assert.Equal(t, 0, s.SlotRetries)

	// Switching back does not resurrect the old values.
	s.SetCandidate("billing")
	assert.Empty(t, s.FilledSlots)
}

func TestSetCandidateSameDepartmentKeepsSlots(t *testing.T) {
	s := New("abc", time.Now())
	s.SetCandidate("billing")
	s.FillSlot("account_id", "ACC-1")

	s.SetCandidate("billing")
	assert.Equal(t, "ACC-1", s.FilledSlots["account_id"])
}

func TestTranscriptBound(t *testing.T) {
	s := New("abc", time.Now())
	for i := 0; i < maxTranscriptEntries+25; i++ {
		s.AppendTranscript(RoleUser, "msg", time.Now())
	}
	assert.Len(t, s.Transcript, maxTranscriptEntries)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	s := New("abc", now)

	assert.False(t, s.Expired(now.Add(10*time.Minute), 30*time.Minute))
	assert.True(t, s.Expired(now.Add(31*time.Minute), 30*time.Minute))
}

func TestCloneIsDeep(t *testing.T) {
	s := New("abc", time.Now())
	s.SetCandidate("billing")
	s.FillSlot("account_id", "ACC-1")
	s.AppendTranscript(RoleUser, "hello", time.Now())
	s.RecordDecision("route", "billing", 0.9, "", time.Now())
	s.OfferedDepartmentIDs = []string{"billing"}

	c := s.Clone()
	c.FilledSlots["account_id"] = "CHANGED"
	c.Transcript[0].Text = "CHANGED"
	c.Decisions[0].DepartmentID = "CHANGED"
	c.OfferedDepartmentIDs[0] = "CHANGED"

	assert.Equal(t, "ACC-1", s.FilledSlots["account_id"])
	assert.Equal(t, "hello", s.Transcript[0].Text)
	assert.Equal(t, "billing", s.Decisions[0].DepartmentID)
	assert.Equal(t, "billing", s.OfferedDepartmentIDs[0])
}
