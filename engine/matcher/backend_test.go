package matcher

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-5 {
				t.Errorf("cosineSimilarity() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestClampScore(t *testing.T) {
	if got := clampScore(-0.3); got != 0 {
		t.Errorf("clampScore(-0.3) = %f, want 0", got)
	}
	if got := clampScore(1.2); got != 1 {
		t.Errorf("clampScore(1.2) = %f, want 1", got)
	}
	if got := clampScore(0.5); got != 0.5 {
		t.Errorf("clampScore(0.5) = %f, want 0.5", got)
	}
}

func TestMemoryBackendRanksDescending(t *testing.T) {
	b := NewMemoryBackend()
	query := []float32{1, 0, 0}
	candidates := []ProfileVector{
		{DepartmentID: "far", Vector: []float32{0, 1, 0}},
		{DepartmentID: "near", Vector: []float32{1, 0.1, 0}},
		{DepartmentID: "mid", Vector: []float32{1, 1, 0}},
	}

	result, err := b.Nearest(context.Background(), query, candidates)
	if err != nil {
		t.Fatal(err)
	}

	if len(result) != 3 {
		t.Fatalf("got %d scores, want 3", len(result))
	}
	wantOrder := []string{"near", "mid", "far"}
	for i, want := range wantOrder {
		if result[i].DepartmentID != want {
			t.Errorf("rank %d = %s, want %s", i, result[i].DepartmentID, want)
		}
	}

	top, ok := result.Top()
	if !ok || top.DepartmentID != "near" {
		t.Errorf("Top() = %+v, want near", top)
	}
	if second := result.Second(); second.DepartmentID != "mid" {
		t.Errorf("Second() = %+v, want mid", second)
	}
}

func TestSecondOnSingleEntryResult(t *testing.T) {
	r := SimilarityResult{{DepartmentID: "only", Score: 0.9}}
	if second := r.Second(); second.Score != 0 {
		t.Errorf("Second() score = %f, want 0", second.Score)
	}
}
