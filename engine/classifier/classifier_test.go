package classifier

import (
	"testing"

	"github.com/webential/deskrouter/engine/matcher"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name       string
		result     matcher.SimilarityResult
		wantKind   Kind
		wantDept   string
		wantReason string
	}{
		{
			name: "clear winner routes",
			result: matcher.SimilarityResult{
				{DepartmentID: "billing", Score: 0.91},
				{DepartmentID: "sales", Score: 0.40},
			},
			wantKind: KindRoute,
			wantDept: "billing",
		},
		{
			name: "high score with thin margin clarifies",
			result: matcher.SimilarityResult{
				{DepartmentID: "billing", Score: 0.82},
				{DepartmentID: "sales", Score: 0.79},
			},
			wantKind:   KindClarify,
			wantDept:   "billing",
			wantReason: ReasonAmbiguous,
		},
		{
			name: "mid score clarifies",
			result: matcher.SimilarityResult{
				{DepartmentID: "hr", Score: 0.60},
				{DepartmentID: "sales", Score: 0.20},
			},
			wantKind:   KindClarify,
			wantDept:   "hr",
			wantReason: ReasonAmbiguous,
		},
		{
			name: "below floor escalates",
			result: matcher.SimilarityResult{
				{DepartmentID: "hr", Score: 0.30},
			},
			wantKind:   KindEscalate,
			wantReason: ReasonNoConfidentMatch,
		},
		{
			name:       "empty result escalates",
			result:     matcher.SimilarityResult{},
			wantKind:   KindEscalate,
			wantReason: ReasonNoDepartments,
		},
		{
			name: "single department at high threshold routes",
			result: matcher.SimilarityResult{
				{DepartmentID: "sales", Score: 0.75},
			},
			wantKind: KindRoute,
			wantDept: "sales",
		},
		{
			name: "exactly at floor clarifies",
			result: matcher.SimilarityResult{
				{DepartmentID: "sales", Score: 0.45},
				{DepartmentID: "hr", Score: 0.44},
			},
			wantKind:   KindClarify,
			wantDept:   "sales",
			wantReason: ReasonAmbiguous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.result, th)
			if got.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if got.DepartmentID != tt.wantDept {
				t.Errorf("department = %q, want %q", got.DepartmentID, tt.wantDept)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestClassifyProducesExactlyOneKind(t *testing.T) {
	// Sweep score pairs across the grid; every pair must classify without
	// ambiguity and route only above both bars.
	th := DefaultThresholds()
	for top := float32(0); top <= 1.0; top += 0.05 {
		for second := float32(0); second <= top; second += 0.05 {
			d := Classify(matcher.SimilarityResult{
				{DepartmentID: "a", Score: top},
				{DepartmentID: "b", Score: second},
			}, th)

			switch d.Kind {
			case KindRoute:
				if top < th.High || top-second < th.Margin {
					t.Fatalf("routed at top=%.2f second=%.2f", top, second)
				}
			case KindClarify:
				if top < th.Floor {
					t.Fatalf("clarified below floor at top=%.2f", top)
				}
			case KindEscalate:
				if top >= th.Floor {
					t.Fatalf("escalated above floor at top=%.2f", top)
				}
			default:
				t.Fatalf("unknown kind %q", d.Kind)
			}
		}
	}
}
