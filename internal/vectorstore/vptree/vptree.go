// Package vptree is a vantage-point tree index. Cosine similarity is searched
// through angular distance and Euclidean through L2, both true metrics. The
// tree only prunes; candidates are ranked by the metric score with insertion
// order breaking ties, so an unbounded search returns the same hits as a
// linear scan. Setting MaxVisits caps the nodes examined per query; recall
// then degrades gracefully with the budget.
package vptree

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/vectorstore"
)

type item struct {
	entry domain.IndexEntry
	point []float64
	mag   float64
	seq   uint64
}

type node struct {
	item      int
	threshold float64
	inside    *node
	outside   *node
}

// Index is a VP-tree over the inserted entries. The tree is rebuilt lazily on
// the first query after a write.
type Index struct {
	mu        sync.RWMutex
	dimension int
	metric    vectorstore.Metric
	maxVisits int
	seq       uint64
	items     []item
	byID      map[string]int
	root      *node
	dirty     bool
}

var _ vectorstore.Index = (*Index)(nil)

// New creates an empty tree. maxVisits <= 0 searches exhaustively.
func New(dimension int, metric vectorstore.Metric, maxVisits int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfig, dimension)
	}
	if metric == vectorstore.DotProduct {
		return nil, fmt.Errorf("%w: vptree needs a distance metric, dot product is not one", domain.ErrInvalidConfig)
	}
	return &Index{dimension: dimension, metric: metric, maxVisits: maxVisits, byID: make(map[string]int)}, nil
}

func (x *Index) Dimension() int              { return x.dimension }
func (x *Index) Metric() vectorstore.Metric { return x.metric }

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

func (x *Index) Insert(entries ...domain.IndexEntry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	err := vectorstore.CheckInsert(entries, x.dimension, func(id string) bool {
		_, ok := x.byID[id]
		return ok
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		x.seq++
		e.Vector = append([]float32(nil), e.Vector...)
		x.byID[e.ID] = len(x.items)
		x.items = append(x.items, item{entry: e, point: x.project(e.Vector), mag: vectorstore.Magnitude(e.Vector), seq: x.seq})
	}
	x.dirty = true
	return nil
}

func (x *Index) Delete(ids ...string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := x.byID[id]; ok {
			delete(x.byID, id)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	kept := x.items[:0]
	for _, it := range x.items {
		if _, ok := x.byID[it.entry.ID]; ok {
			kept = append(kept, it)
		}
	}
	clear(x.items[len(kept):])
	x.items = kept
	for i, it := range kept {
		x.byID[it.entry.ID] = i
	}
	x.dirty = true
	return n
}

func (x *Index) Get(id string) (domain.IndexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i, ok := x.byID[id]
	if !ok {
		return domain.IndexEntry{}, false
	}
	return x.items[i].entry, true
}

func (x *Index) Entries() []domain.IndexEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]domain.IndexEntry, len(x.items))
	for i, it := range x.items {
		out[i] = it.entry
	}
	return out
}

func (x *Index) Query(vector []float32, k int) ([]vectorstore.Hit, error) {
	if err := vectorstore.CheckDimension(vector, x.dimension); err != nil {
		return nil, err
	}
	for {
		x.ensureBuilt()
		x.mu.RLock()
		if !x.dirty {
			break
		}
		x.mu.RUnlock()
	}
	defer x.mu.RUnlock()
	if k <= 0 || len(x.items) == 0 {
		return nil, nil
	}

	s := &search{index: x, vector: vector, qmag: vectorstore.Magnitude(vector), query: x.project(vector), k: k}
	s.visit(x.root)

	hits := make([]vectorstore.Hit, len(s.best))
	for i, c := range s.best {
		it := x.items[c.item]
		hits[i] = vectorstore.Hit{
			ID:         it.entry.ID,
			DocumentID: it.entry.DocumentID,
			Score:      c.score,
			Seq:        it.seq,
		}
	}
	sort.Slice(hits, func(i, j int) bool { return vectorstore.Less(hits[i], hits[j]) })
	return hits, nil
}

// project maps a vector into the space the tree measures distances in:
// unit length for cosine, unchanged for Euclidean.
func (x *Index) project(v []float32) []float64 {
	out := make([]float64, len(v))
	scale := 1.0
	if x.metric == vectorstore.Cosine {
		mag := vectorstore.Magnitude(v)
		if mag == 0 {
			return out
		}
		scale = 1 / mag
	}
	for i, f := range v {
		out[i] = float64(f) * scale
	}
	return out
}

// distance is the angle between unit vectors scaled to [0, 1] for cosine, or
// the L2 distance. A zero vector sits at distance 0.5 from every unit vector.
func (x *Index) distance(a, b []float64) float64 {
	var s float64
	if x.metric == vectorstore.Euclidean {
		for i := range a {
			d := a[i] - b[i]
			s += d * d
		}
		return math.Sqrt(s)
	}
	for i := range a {
		s += a[i] * b[i]
	}
	return math.Acos(math.Max(-1, math.Min(1, s))) / math.Pi
}

func (x *Index) ensureBuilt() {
	x.mu.RLock()
	dirty := x.dirty
	x.mu.RUnlock()
	if !dirty {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.dirty {
		return
	}
	idx := make([]int, len(x.items))
	for i := range idx {
		idx[i] = i
	}
	x.root = x.build(idx)
	x.dirty = false
}

// build picks the earliest inserted item as vantage point and splits the rest
// at the median distance.
func (x *Index) build(idx []int) *node {
	if len(idx) == 0 {
		return nil
	}
	n := &node{item: idx[0]}
	rest := idx[1:]
	if len(rest) == 0 {
		return n
	}
	vp := x.items[idx[0]].point
	dists := make(map[int]float64, len(rest))
	for _, i := range rest {
		dists[i] = x.distance(vp, x.items[i].point)
	}
	sort.SliceStable(rest, func(a, b int) bool { return dists[rest[a]] < dists[rest[b]] })
	mid := len(rest) / 2
	n.threshold = dists[rest[mid]]
	inside := append([]int(nil), rest[:mid+1]...)
	outside := append([]int(nil), rest[mid+1:]...)
	sort.Ints(inside)
	sort.Ints(outside)
	n.inside = x.build(inside)
	n.outside = x.build(outside)
	return n
}

// slack widens the pruning radius so that candidates whose tree distance
// differs from the kept ones only by rounding are still scored.
const slack = 1e-6

type candidate struct {
	item  int
	dist  float64
	score float64
	seq   uint64
}

// ranksBefore orders candidates like a linear scan: higher score first, then
// earlier insertion.
func (c candidate) ranksBefore(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.seq < o.seq
}

type search struct {
	index  *Index
	vector []float32
	qmag   float64
	query  []float64
	k      int
	visits int
	best   []candidate
}

// tau is the pruning radius: the farthest kept candidate plus slack.
func (s *search) tau() float64 {
	if len(s.best) < s.k {
		return math.Inf(1)
	}
	far := 0.0
	for _, b := range s.best {
		far = math.Max(far, b.dist)
	}
	return far + slack
}

func (s *search) offer(c candidate) {
	pos := sort.Search(len(s.best), func(i int) bool {
		return c.ranksBefore(s.best[i])
	})
	if pos >= s.k {
		return
	}
	s.best = append(s.best, candidate{})
	copy(s.best[pos+1:], s.best[pos:])
	s.best[pos] = c
	if len(s.best) > s.k {
		s.best = s.best[:s.k]
	}
}

func (s *search) visit(n *node) {
	if n == nil {
		return
	}
	if s.index.maxVisits > 0 && s.visits >= s.index.maxVisits {
		return
	}
	s.visits++
	it := s.index.items[n.item]
	d := s.index.distance(s.query, it.point)
	score := s.index.metric.Score(s.vector, it.entry.Vector, s.qmag, it.mag)
	s.offer(candidate{item: n.item, dist: d, score: score, seq: it.seq})

	if d <= n.threshold {
		s.visit(n.inside)
		if d+s.tau() >= n.threshold {
			s.visit(n.outside)
		}
		return
	}
	s.visit(n.outside)
	if d-s.tau() <= n.threshold {
		s.visit(n.inside)
	}
}
