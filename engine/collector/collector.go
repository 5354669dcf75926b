// Package collector drives the clarification and slot-filling turns between
// an initial classification and a composed routing request.
package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/webential/deskrouter/engine/corpus"
	"github.com/webential/deskrouter/engine/session"
)

// Escalation reasons produced by dialogue exhaustion.
const (
	ReasonClarifyExhausted = "clarify_turns_exhausted"
	reasonSlotExhausted    = "slot_retry_exhausted"
)

// prioritySlotKeys feed the composed request's priority when a department
// defines a slot with one of these keys.
var prioritySlotKeys = map[string]bool{"priority": true, "severity": true}

// Config bounds the dialogue.
type Config struct {
	// MaxClarifyTurns is the number of clarification prompts allowed before
	// escalating.
	MaxClarifyTurns int
	// MaxSlotRetries is the number of failed validations tolerated per slot;
	// the next failure escalates.
	MaxSlotRetries int
}

// DefaultConfig returns the shipped dialogue bounds.
func DefaultConfig() Config {
	return Config{MaxClarifyTurns: 3, MaxSlotRetries: 2}
}

// Outcome is the result of one collector step.
type Outcome struct {
	// Prompt is the next user-facing message, empty when Ready.
	Prompt string
	// Ready reports that every required slot is filled and the session moved
	// to READY_TO_SEND.
	Ready bool
	// Rematch reports that a clarification reply named no offered department
	// and should be re-matched as a fresh query on its own.
	Rematch bool
}

// Collector owns clarify and slot-filling transitions. It mutates sessions
// only inside the store's Update critical section; the engine guarantees
// that.
type Collector struct {
	registry *Registry
	cfg      Config
}

// New creates a Collector. A zero config gets defaults.
func New(registry *Registry, cfg Config) *Collector {
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.MaxClarifyTurns <= 0 {
		cfg.MaxClarifyTurns = DefaultConfig().MaxClarifyTurns
	}
	if cfg.MaxSlotRetries <= 0 {
		cfg.MaxSlotRetries = DefaultConfig().MaxSlotRetries
	}
	return &Collector{registry: registry, cfg: cfg}
}

// StartCollecting locks the session onto a department and prompts for its
// first unfilled slot. Departments without slots go straight to
// READY_TO_SEND.
func (c *Collector) StartCollecting(sess *session.Session, profile *corpus.DepartmentProfile) Outcome {
	sess.SetCandidate(profile.ID)
	sess.OfferedDepartmentIDs = nil
	return c.promptNext(sess, profile)
}

// BeginClarify moves the session to CLARIFYING and builds the disambiguation
// prompt from the candidate and up to two runners-up. Exhausting the clarify
// budget escalates instead.
func (c *Collector) BeginClarify(sess *session.Session, snap *corpus.Snapshot, candidateIDs []string) Outcome {
	sess.ClarifyTurns++
	if sess.ClarifyTurns > c.cfg.MaxClarifyTurns {
		sess.Escalate(ReasonClarifyExhausted)
		return Outcome{Prompt: "I could not pin down the right team. A colleague will pick this up shortly."}
	}

	if len(candidateIDs) > 3 {
		candidateIDs = candidateIDs[:3]
	}
	sess.State = session.StateClarifying
	sess.OfferedDepartmentIDs = append([]string(nil), candidateIDs...)

	var b strings.Builder
	b.WriteString("I want to make sure this reaches the right team. Which of these fits best?\n")
	for i, id := range candidateIDs {
		p, ok := snap.Get(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, p.Name, p.Description)
	}
	b.WriteString("Reply with a number or a team name, or describe your issue differently.")
	return Outcome{Prompt: b.String()}
}

// ResolveClarify interprets a reply to a clarification prompt. A 1-based
// number or a case-insensitive department name selects a department; anything
// else is treated as a rephrased query and re-matched on its own, without the
// earlier turns' text.
func (c *Collector) ResolveClarify(sess *session.Session, snap *corpus.Snapshot, text string) (*corpus.DepartmentProfile, Outcome) {
	reply := strings.TrimSpace(text)

	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(sess.OfferedDepartmentIDs) {
			if p, ok := snap.Get(sess.OfferedDepartmentIDs[n-1]); ok {
				return p, c.StartCollecting(sess, p)
			}
		}
		return nil, Outcome{Rematch: true}
	}

	if p, ok := snap.FindByName(reply); ok {
		return p, c.StartCollecting(sess, p)
	}
	return nil, Outcome{Rematch: true}
}

// HandleSlotTurn validates the answer for the pending slot and either
// advances to the next prompt, finishes collection, or escalates after the
// retry budget is spent.
func (c *Collector) HandleSlotTurn(sess *session.Session, profile *corpus.DepartmentProfile, text string) (Outcome, error) {
	slot, ok := profile.Slot(sess.PendingSlotIndex)
	if !ok {
		// Collection already complete; treat as ready.
		sess.State = session.StateReadyToSend
		return Outcome{Ready: true}, nil
	}

	if !slot.Required && strings.TrimSpace(text) == "" {
		sess.FillSlot(slot.Key, "")
		return c.promptNext(sess, profile), nil
	}

	validator, err := c.registry.For(slot)
	if err != nil {
		return Outcome{}, err
	}

	value, verr := validator.Validate(text)
	if verr == nil && slot.Required && strings.TrimSpace(value) == "" {
		// A permissive validator may accept an answer that normalizes to
		// nothing; a required slot still needs a value before composition.
		verr = errors.New("a non-empty answer is required")
	}
	if verr != nil {
		failure := &ValidationFailure{SlotKey: slot.Key, Message: verr.Error()}
		sess.SlotRetries++
		slog.Debug("slot answer rejected",
			"session_id", sess.ID,
			"slot", failure.SlotKey,
			"retries", sess.SlotRetries)
		if sess.SlotRetries > c.cfg.MaxSlotRetries {
			sess.Escalate(SlotExhaustedReason(slot.Key))
			return Outcome{Prompt: "I could not collect the details needed here. A colleague will follow up with you directly."}, nil
		}
		return Outcome{Prompt: fmt.Sprintf("Sorry, %s. %s", failure.Message, slot.Prompt)}, nil
	}

	sess.FillSlot(slot.Key, value)
	if prioritySlotKeys[slot.Key] {
		sess.Priority = value
	}
	return c.promptNext(sess, profile), nil
}

// promptNext asks for the next unfilled slot, or finishes collection.
func (c *Collector) promptNext(sess *session.Session, profile *corpus.DepartmentProfile) Outcome {
	for {
		slot, ok := profile.Slot(sess.PendingSlotIndex)
		if !ok {
			sess.State = session.StateReadyToSend
			return Outcome{Ready: true}
		}
		if _, filled := sess.FilledSlots[slot.Key]; filled {
			sess.PendingSlotIndex++
			continue
		}
		sess.State = session.StateCollectingContext
		return Outcome{Prompt: slot.Prompt}
	}
}

// SlotExhaustedReason builds the reason string recorded when a slot's retry
// budget runs out.
func SlotExhaustedReason(key string) string {
	return reasonSlotExhausted + ":" + key
}
