// Package vectorstore defines the vector index contract shared by the exact
// and approximate implementations.
package vectorstore

import (
	"fmt"
	"math"
	"strings"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// Hit is one query match. Seq is the insertion sequence of the entry and breaks
// score ties (earlier wins).
type Hit struct {
	ID         string
	DocumentID string
	Score      float64
	Seq        uint64
}

// Index stores entries of one fixed dimension and answers nearest-neighbour
// queries. Implementations allow concurrent queries; writes are exclusive.
type Index interface {
	Dimension() int
	Metric() Metric
	Len() int
	// Insert adds entries atomically. It fails with domain.ErrDuplicateID if any
	// id is already present (or repeated), and domain.ErrDimensionMismatch on a
	// wrong vector length; the index is unchanged on failure.
	Insert(entries ...domain.IndexEntry) error
	// Delete removes the given ids and returns how many were present.
	Delete(ids ...string) int
	Get(id string) (domain.IndexEntry, bool)
	// Query returns at most k hits ordered by descending score, then insertion order.
	Query(vector []float32, k int) ([]Hit, error)
	// Entries returns all entries in insertion order.
	Entries() []domain.IndexEntry
}

// Metric is a similarity function. Scores are higher-is-better.
type Metric int

const (
	Cosine Metric = iota
	DotProduct
	Euclidean
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case DotProduct:
		return "dot"
	case Euclidean:
		return "euclidean"
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// ParseMetric maps a config name to a Metric.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(name) {
	case "", "cosine":
		return Cosine, nil
	case "dot", "dot_product", "inner_product":
		return DotProduct, nil
	case "euclidean", "l2":
		return Euclidean, nil
	}
	return 0, fmt.Errorf("%w: unknown metric %q", domain.ErrInvalidConfig, name)
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// Dot returns the inner product of equally sized vectors.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// L2 returns the Euclidean distance of equally sized vectors.
func L2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

// Score computes the metric value for a and b. magA and magB are the
// precomputed norms (only used for cosine). Cosine with a zero vector is 0;
// Euclidean scores are negated distances.
func (m Metric) Score(a, b []float32, magA, magB float64) float64 {
	switch m {
	case DotProduct:
		return Dot(a, b)
	case Euclidean:
		return -L2(a, b)
	default:
		if magA == 0 || magB == 0 {
			return 0
		}
		s := Dot(a, b) / (magA * magB)
		return math.Max(-1, math.Min(1, s))
	}
}

// CheckDimension returns domain.ErrDimensionMismatch when len(v) != dim.
func CheckDimension(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: vector has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

// CheckInsert validates a batch against the index dimension, the ids already
// present and each other.
func CheckInsert(entries []domain.IndexEntry, dim int, exists func(id string) bool) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("%w: empty entry id", domain.ErrInvalidConfig)
		}
		if err := CheckDimension(e.Vector, dim); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if _, dup := seen[e.ID]; dup || exists(e.ID) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// Less orders hits by descending score, then ascending insertion sequence.
func Less(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}
