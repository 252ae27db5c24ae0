package vptree

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
	"github.com/dangattringer/rust-rag/internal/vectorstore/memory"
)

func randomEntries(r *rand.Rand, n, dim int) []domain.IndexEntry {
	out := make([]domain.IndexEntry, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		out[i] = domain.IndexEntry{ID: fmt.Sprintf("c%03d", i), DocumentID: fmt.Sprintf("d%d", i%7), Vector: v}
	}
	return out
}

func TestIndex_MatchesExactSearch(t *testing.T) {
	for _, metric := range []vectorstore.Metric{vectorstore.Cosine, vectorstore.Euclidean} {
		t.Run(metric.String(), func(t *testing.T) {
			r := rand.New(rand.NewPCG(7, 11))
			entries := randomEntries(r, 300, 8)

			exact, _ := memory.NewStorage(8, metric)
			tree, err := New(8, metric, 0)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := exact.Insert(entries...); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			// Insert in two batches to exercise the lazy rebuild.
			if err := tree.Insert(entries[:150]...); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if _, err := tree.Query(entries[0].Vector, 1); err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if err := tree.Insert(entries[150:]...); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			for q := 0; q < 20; q++ {
				query := randomEntries(r, 1, 8)[0].Vector
				want, _ := exact.Query(query, 10)
				got, err := tree.Query(query, 10)
				if err != nil {
					t.Fatalf("Query failed: %v", err)
				}
				if len(got) != len(want) {
					t.Fatalf("query %d: got %d hits, want %d", q, len(got), len(want))
				}
				for i := range want {
					if got[i].ID != want[i].ID || math.Abs(got[i].Score-want[i].Score) > 1e-9 {
						t.Errorf("query %d hit %d: got %s (%f), want %s (%f)", q, i, got[i].ID, got[i].Score, want[i].ID, want[i].Score)
					}
				}
			}
		})
	}
}

func TestIndex_TiesFollowInsertionOrder(t *testing.T) {
	base := []float32{0.3, -1.7, 2.9, 0.11}
	scales := []float32{1, 7.3, 0.21, 13, 0.9, 3.3, 41, 0.017, 2.5, 5.9}

	tests := []struct {
		name   string
		metric vectorstore.Metric
		// scaled uses positive multiples of base, equal in cosine only up to
		// rounding, so only agreement with the linear scan is checked.
		scaled bool
	}{
		{name: "cosine scaled duplicates", metric: vectorstore.Cosine, scaled: true},
		{name: "cosine identical", metric: vectorstore.Cosine},
		{name: "euclidean identical", metric: vectorstore.Euclidean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []domain.IndexEntry
			for i, sc := range scales {
				v := make([]float32, len(base))
				for j := range base {
					v[j] = base[j]
					if tt.scaled {
						v[j] *= sc
					}
				}
				entries = append(entries, domain.IndexEntry{ID: fmt.Sprintf("e%d", i), Vector: v})
			}
			r := rand.New(rand.NewPCG(3, 5))
			entries = append(entries, randomEntries(r, 40, len(base))...)

			exact, _ := memory.NewStorage(len(base), tt.metric)
			tree, err := New(len(base), tt.metric, 0)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := exact.Insert(entries...); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := tree.Insert(entries...); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			for _, k := range []int{1, 3, 10} {
				want, _ := exact.Query(base, k)
				got, err := tree.Query(base, k)
				if err != nil {
					t.Fatalf("Query failed: %v", err)
				}
				if fmt.Sprint(hitIDs(got)) != fmt.Sprint(hitIDs(want)) {
					t.Errorf("k=%d: tree %v, linear scan %v", k, hitIDs(got), hitIDs(want))
				}
				if !tt.scaled && got[0].ID != "e0" {
					t.Errorf("k=%d: rank 0 is %s, want the earliest insert e0", k, got[0].ID)
				}
			}
		})
	}
}

func hitIDs(hits []vectorstore.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestIndex_RoundTripAndDuplicates(t *testing.T) {
	tree, _ := New(3, vectorstore.Cosine, 0)
	e := domain.IndexEntry{ID: "a", DocumentID: "d", Vector: []float32{1, 2, 3}}
	if err := tree.Insert(e, domain.IndexEntry{ID: "b", Vector: []float32{-1, 0, 0}}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	hits, _ := tree.Query(e.Vector, 1)
	if len(hits) != 1 || hits[0].ID != "a" || math.Abs(hits[0].Score-1) > 1e-6 {
		t.Errorf("Query = %+v", hits)
	}
	if err := tree.Insert(e); !errors.Is(err, domain.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if tree.Len() != 2 {
		t.Errorf("Len = %d after failed insert", tree.Len())
	}
	if tree.Delete("a") != 1 {
		t.Error("Delete did not remove a")
	}
	hits, _ = tree.Query(e.Vector, 5)
	if len(hits) != 1 || hits[0].ID != "b" {
		t.Errorf("after delete Query = %+v", hits)
	}
}

func TestIndex_VisitBudget(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	entries := randomEntries(r, 100, 4)
	tree, _ := New(4, vectorstore.Cosine, 1)
	_ = tree.Insert(entries...)

	hits, err := tree.Query(entries[50].Vector, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != entries[0].ID {
		t.Errorf("budget of one visit should only see the root, got %+v", hits)
	}
}

func TestNew_RejectsDotProduct(t *testing.T) {
	if _, err := New(4, vectorstore.DotProduct, 0); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
