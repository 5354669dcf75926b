// Package session owns per-conversation state. Sessions are mutated only
// through engine transitions; the store serializes turns per session id.
package session

import (
	"encoding/json"
	"time"
)

// State is the conversation state machine position.
type State string

const (
	StateAwaitingQuery     State = "AWAITING_QUERY"
	StateClarifying        State = "CLARIFYING"
	StateCollectingContext State = "COLLECTING_CONTEXT"
	StateReadyToSend       State = "READY_TO_SEND"
	StateSent              State = "SENT"
	StateEscalated         State = "ESCALATED"
	StateAbandoned         State = "ABANDONED"
)

// Terminal reports whether the state accepts no further turns.
func (s State) Terminal() bool {
	switch s {
	case StateSent, StateEscalated, StateAbandoned:
		return true
	default:
		return false
	}
}

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one chat turn kept for /api/history and the archive.
type TranscriptEntry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// DecisionRecord preserves one routing decision for the human-handoff path.
type DecisionRecord struct {
	Turn         int       `json:"turn"`
	Kind         string    `json:"kind"`
	DepartmentID string    `json:"department_id,omitempty"`
	Score        float32   `json:"score,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// maxTranscriptEntries bounds per-session transcript memory.
const maxTranscriptEntries = 100

// Session is the state of one conversation.
type Session struct {
	ID    string `json:"id"`
	State State  `json:"state"`

	// CandidateDepartmentID is the department slots are being collected
	// for. At most one at a time; switching clears FilledSlots.
	CandidateDepartmentID string            `json:"candidate_department_id,omitempty"`
	FilledSlots           map[string]string `json:"filled_slots,omitempty"`
	PendingSlotIndex      int               `json:"pending_slot_index"`
	// SlotRetries counts failed validations for the pending slot only.
	SlotRetries  int `json:"slot_retries"`
	ClarifyTurns int `json:"clarify_turns"`
	TurnCount    int `json:"turn_count"`

	// OfferedDepartmentIDs is the ordered list of departments named in the
	// last clarification prompt; a numeric reply indexes into it (1-based).
	OfferedDepartmentIDs []string `json:"offered_department_ids,omitempty"`

	Priority       string `json:"priority,omitempty"`
	EscalateReason string `json:"escalate_reason,omitempty"`

	// ComposedRequest preserves the routing request when delivery fails
	// terminally, for manual resend.
	ComposedRequest  json.RawMessage `json:"composed_request,omitempty"`
	DeliveryAttempts int             `json:"delivery_attempts"`

	Decisions  []DecisionRecord  `json:"decisions,omitempty"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// New creates a session awaiting its first query.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:             id,
		State:          StateAwaitingQuery,
		FilledSlots:    make(map[string]string),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Touch updates the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// Expired reports whether the session passed the inactivity timeout.
// Terminal sessions expire too; the sweep evicts them without changing state.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivityAt) > timeout
}

// SetCandidate switches the candidate department. Any previously collected
// slots belong to the old candidate and are dropped; switching back later
// does not resurrect them.
func (s *Session) SetCandidate(departmentID string) {
	if s.CandidateDepartmentID == departmentID {
		return
	}
	s.CandidateDepartmentID = departmentID
	s.FilledSlots = make(map[string]string)
	s.PendingSlotIndex = 0
	s.SlotRetries = 0
}

// FillSlot stores a normalized slot value and advances past it.
func (s *Session) FillSlot(key, value string) {
	s.FilledSlots[key] = value
	s.PendingSlotIndex++
	s.SlotRetries = 0
}

// RecordDecision appends a decision to the session history.
func (s *Session) RecordDecision(kind, departmentID string, score float32, reason string, now time.Time) {
	s.Decisions = append(s.Decisions, DecisionRecord{
		Turn:         s.TurnCount,
		Kind:         kind,
		DepartmentID: departmentID,
		Score:        score,
		Reason:       reason,
		At:           now,
	})
}

// AppendTranscript records a chat turn, dropping the oldest entries past the
// bound.
func (s *Session) AppendTranscript(role Role, text string, now time.Time) {
	s.Transcript = append(s.Transcript, TranscriptEntry{Role: role, Text: text, At: now})
	if n := len(s.Transcript); n > maxTranscriptEntries {
		s.Transcript = s.Transcript[n-maxTranscriptEntries:]
	}
}

// Escalate moves the session to its terminal escalated state.
func (s *Session) Escalate(reason string) {
	s.State = StateEscalated
	s.EscalateReason = reason
}

// Clone returns a deep copy, used to hand snapshots outside the store's
// locking discipline.
func (s *Session) Clone() *Session {
	c := *s
	c.FilledSlots = make(map[string]string, len(s.FilledSlots))
	for k, v := range s.FilledSlots {
		c.FilledSlots[k] = v
	}
	c.OfferedDepartmentIDs = append([]string(nil), s.OfferedDepartmentIDs...)
	c.Decisions = append([]DecisionRecord(nil), s.Decisions...)
	c.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	c.ComposedRequest = append(json.RawMessage(nil), s.ComposedRequest...)
	return &c
}
