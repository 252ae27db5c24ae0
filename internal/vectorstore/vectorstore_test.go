package vectorstore

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/dangattringer/rust-rag/internal/domain"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, float32(math.Inf(1))}
	out, err := DecodeEmbedding(EncodeEmbedding(in))
	if err != nil {
		t.Fatalf("DecodeEmbedding failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestMetricScore(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 2}
	tests := []struct {
		metric Metric
		x, y   []float32
		want   float64
	}{
		{Cosine, a, a, 1},
		{Cosine, a, b, 0},
		{Cosine, a, []float32{0, 0}, 0},
		{DotProduct, []float32{1, 2}, []float32{3, 4}, 11},
		{Euclidean, []float32{0, 0}, []float32{3, 4}, -5},
	}
	for _, tt := range tests {
		got := tt.metric.Score(tt.x, tt.y, Magnitude(tt.x), Magnitude(tt.y))
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s(%v, %v) = %f, want %f", tt.metric, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestParseMetric(t *testing.T) {
	if m, err := ParseMetric(""); err != nil || m != Cosine {
		t.Errorf("default metric = %v, %v", m, err)
	}
	if m, err := ParseMetric("L2"); err != nil || m != Euclidean {
		t.Errorf("ParseMetric(L2) = %v, %v", m, err)
	}
	if _, err := ParseMetric("hamming"); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCheckInsert(t *testing.T) {
	existing := func(id string) bool { return id == "old" }
	ok := []domain.IndexEntry{{ID: "a", Vector: []float32{1, 2}}, {ID: "b", Vector: []float32{3, 4}}}
	if err := CheckInsert(ok, 2, existing); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	dupBatch := []domain.IndexEntry{{ID: "a", Vector: []float32{1, 2}}, {ID: "a", Vector: []float32{1, 2}}}
	if err := CheckInsert(dupBatch, 2, existing); !errors.Is(err, domain.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID for repeated id, got %v", err)
	}
	if err := CheckInsert([]domain.IndexEntry{{ID: "old", Vector: []float32{1, 2}}}, 2, existing); !errors.Is(err, domain.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID for existing id, got %v", err)
	}
	if err := CheckInsert([]domain.IndexEntry{{ID: "c", Vector: []float32{1}}}, 2, existing); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
