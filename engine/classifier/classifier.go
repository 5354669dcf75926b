// Package classifier maps a ranked similarity result to a routing decision.
package classifier

import (
	"github.com/webential/deskrouter/engine/matcher"
)

// Kind is the decision variant. Consumers switch over it exhaustively; a
// default branch treats unknown kinds as an internal error rather than
// falling through silently.
type Kind string

const (
	KindRoute    Kind = "route"
	KindClarify  Kind = "clarify"
	KindEscalate Kind = "escalate"
)

// Escalation and clarification reasons surfaced to operators.
const (
	ReasonAmbiguous           = "ambiguous_or_low_margin"
	ReasonNoConfidentMatch    = "no_confident_match"
	ReasonNoDepartments       = "no_departments_configured"
	ReasonProviderUnavailable = "provider_unavailable"
)

// Decision is the outcome of classifying one query. Derived, never stored
// independently; always recomputed from the latest similarity result.
type Decision struct {
	Kind         Kind    `json:"kind"`
	DepartmentID string  `json:"department_id,omitempty"` // route target or clarify candidate
	Score        float32 `json:"score,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// Route builds a direct-route decision.
func Route(departmentID string, score float32) Decision {
	return Decision{Kind: KindRoute, DepartmentID: departmentID, Score: score}
}

// Clarify builds a clarification decision with the best candidate so far.
func Clarify(departmentID string, score float32, reason string) Decision {
	return Decision{Kind: KindClarify, DepartmentID: departmentID, Score: score, Reason: reason}
}

// Escalate builds a human-handoff decision.
func Escalate(reason string) Decision {
	return Decision{Kind: KindEscalate, Reason: reason}
}

// Thresholds are the classifier's configuration. Values are compared with
// >= / <= only; the provider's score nondeterminism is absorbed by the bands,
// never by exact equality.
type Thresholds struct {
	// High is the minimum top score for a direct route.
	High float32
	// Margin is the minimum lead of the top score over the runner-up.
	Margin float32
	// Floor is the minimum top score worth clarifying; below it the query
	// escalates to a human.
	Floor float32
}

// DefaultThresholds returns the shipped defaults. They are placeholders for
// tuning, not normative values.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.75, Margin: 0.08, Floor: 0.45}
}

// Classify maps a ranked result to exactly one decision.
// An empty result escalates; callers short-circuit an empty corpus before
// invoking the matcher at all.
func Classify(result matcher.SimilarityResult, th Thresholds) Decision {
	top, ok := result.Top()
	if !ok {
		return Escalate(ReasonNoDepartments)
	}
	second := result.Second()

	switch {
	case top.Score >= th.High && top.Score-second.Score >= th.Margin:
		return Route(top.DepartmentID, top.Score)
	case top.Score >= th.Floor:
		return Clarify(top.DepartmentID, top.Score, ReasonAmbiguous)
	default:
		return Escalate(ReasonNoConfidentMatch)
	}
}
