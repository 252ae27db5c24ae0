// Package memory is the exact vector index: a linear scan over every entry.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

type record struct {
	entry domain.IndexEntry
	mag   float64
	seq   uint64
}

// Storage is an in-memory vector index using brute-force similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	metric    vectorstore.Metric
	seq       uint64
	records   []record
	byID      map[string]int
}

var _ vectorstore.Index = (*Storage)(nil)

// NewStorage creates an empty index of the given dimension.
func NewStorage(dimension int, metric vectorstore.Metric) (*Storage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfig, dimension)
	}
	return &Storage{dimension: dimension, metric: metric, byID: make(map[string]int)}, nil
}

func (s *Storage) Dimension() int              { return s.dimension }
func (s *Storage) Metric() vectorstore.Metric { return s.metric }

func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Storage) Insert(entries ...domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := vectorstore.CheckInsert(entries, s.dimension, func(id string) bool {
		_, ok := s.byID[id]
		return ok
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.seq++
		e.Vector = append([]float32(nil), e.Vector...)
		s.byID[e.ID] = len(s.records)
		s.records = append(s.records, record{entry: e, mag: vectorstore.Magnitude(e.Vector), seq: s.seq})
	}
	return nil
}

func (s *Storage) Delete(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.byID[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := s.records[:0]
	for _, r := range s.records {
		if _, ok := drop[r.entry.ID]; !ok {
			kept = append(kept, r)
		}
	}
	clear(s.records[len(kept):])
	s.records = kept
	s.byID = make(map[string]int, len(kept))
	for i, r := range kept {
		s.byID[r.entry.ID] = i
	}
	return len(drop)
}

func (s *Storage) Get(id string) (domain.IndexEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return domain.IndexEntry{}, false
	}
	return s.records[i].entry, true
}

func (s *Storage) Query(vector []float32, k int) ([]vectorstore.Hit, error) {
	if err := vectorstore.CheckDimension(vector, s.dimension); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 || len(s.records) == 0 {
		return nil, nil
	}
	qmag := vectorstore.Magnitude(vector)
	hits := make([]vectorstore.Hit, len(s.records))
	for i, r := range s.records {
		hits[i] = vectorstore.Hit{
			ID:         r.entry.ID,
			DocumentID: r.entry.DocumentID,
			Score:      s.metric.Score(vector, r.entry.Vector, qmag, r.mag),
			Seq:        r.seq,
		}
	}
	sort.Slice(hits, func(i, j int) bool { return vectorstore.Less(hits[i], hits[j]) })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func (s *Storage) Entries() []domain.IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IndexEntry, len(s.records))
	for i, r := range s.records {
		out[i] = r.entry
	}
	return out
}
