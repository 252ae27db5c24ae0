// Package chunker splits documents into ordered chunks carrying their source span.
package chunker

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/segment"
)

// Chunker applies one configured strategy. It is stateless and safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the chunker configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk splits document. When the content is not valid UTF-8 it is chunked with
// whitespace-delimited tokens and the chunks are returned together with an
// error wrapping domain.ErrMalformedInput.
func (c *Chunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	seg, segErr := segment.Segment(document.Content, document.Format)
	if segErr != nil {
		if !errors.Is(segErr, domain.ErrMalformedInput) {
			return nil, segErr
		}
		seg = segment.Fallback(document.Content)
	}
	if seg.TokenCount() == 0 {
		return nil, segErr
	}

	d := newDoc(document.Content, seg, c.cfg)
	var pieces []piece
	switch c.cfg.Strategy {
	case FixedToken:
		pieces = d.fixedToken(0, d.length)
	case Sentence:
		pieces = d.sentence(0, d.length)
	case Paragraph:
		pieces = d.paragraph(0, d.length)
	case Recursive:
		pieces = d.recursive(0, d.length)
	case ContextAware:
		pieces = d.contextAware(0, d.length)
	default:
		return nil, fmt.Errorf("%w: unknown chunking strategy %d", domain.ErrInvalidConfig, int(c.cfg.Strategy))
	}
	pieces = absorbEmpty(pieces)

	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			ID:          ChunkID(document.ID, p.start, p.end),
			DocumentID:  document.ID,
			Index:       i,
			Start:       p.start,
			End:         p.end,
			TokenCount:  p.tokens,
			Strategy:    c.cfg.Strategy.String(),
			HeadingPath: p.headings,
			Text:        document.Content[p.start:p.end],
		}
	}
	return chunks, segErr
}

// Chunk is a convenience wrapper around New and Chunker.Chunk.
func Chunk(document domain.Document, cfg Config) ([]domain.Chunk, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c.Chunk(document)
}

// ChunkID is a stable id derived from the owning document and the span.
func ChunkID(documentID string, start, end int) string {
	h := xxhash.New()
	_, _ = h.WriteString(documentID)
	_, _ = h.WriteString(fmt.Sprintf("\x00%d:%d", start, end))
	return fmt.Sprintf("%016x", h.Sum64())
}

// piece is a candidate chunk. Pieces that are not mergeable come from a finer
// split and keep their boundaries.
type piece struct {
	start, end int
	tokens     int
	mergeable  bool
	headings   []string
}

type level struct {
	kind string
	sep  string
}

// doc holds one document's text and segmentation while it is being chunked.
type doc struct {
	text     string
	length   int
	seg      *segment.Segmentation
	cfg      Config
	starts   []int
	levels   []level
	headings []segment.Heading
}

func newDoc(text string, seg *segment.Segmentation, cfg Config) *doc {
	d := &doc{text: text, length: len(text), seg: seg, cfg: cfg, headings: seg.Headings}
	d.starts = make([]int, len(seg.Tokens))
	for i, t := range seg.Tokens {
		d.starts[i] = t.Start
	}
	if len(cfg.Separators) > 0 {
		for _, sep := range cfg.Separators {
			d.levels = append(d.levels, level{kind: "separator", sep: sep})
		}
	} else {
		d.levels = append(d.levels, level{kind: "paragraph"})
	}
	return d
}

// tokenRange returns the indexes [i, j) of tokens starting inside [lo, hi).
func (d *doc) tokenRange(lo, hi int) (int, int) {
	return sort.SearchInts(d.starts, lo), sort.SearchInts(d.starts, hi)
}

func (d *doc) tokensIn(lo, hi int) int {
	i, j := d.tokenRange(lo, hi)
	return j - i
}

// cuts returns the unit boundaries of lv strictly inside (lo, hi).
func (d *doc) cuts(lv level, lo, hi int) []int {
	var out []int
	add := func(pos int) {
		if pos > lo && pos < hi && (len(out) == 0 || out[len(out)-1] < pos) {
			out = append(out, pos)
		}
	}
	switch lv.kind {
	case "paragraph":
		for _, p := range d.seg.Paragraphs {
			add(p.Start)
		}
	case "sentence":
		for _, s := range d.seg.Sentences {
			add(s.Start)
		}
	case "heading":
		for _, h := range d.headings {
			add(h.Start)
		}
	case "separator":
		for from := lo; from < hi; {
			i := strings.Index(d.text[from:hi], lv.sep)
			if i < 0 {
				break
			}
			pos := from + i + len(lv.sep)
			add(pos)
			from = pos
		}
	}
	return out
}

// units splits [lo, hi) at the boundaries of lv.
func (d *doc) units(lv level, lo, hi int) [][2]int {
	cuts := d.cuts(lv, lo, hi)
	out := make([][2]int, 0, len(cuts)+1)
	prev := lo
	for _, c := range cuts {
		out = append(out, [2]int{prev, c})
		prev = c
	}
	return append(out, [2]int{prev, hi})
}

// fixedToken emits windows of at most MaxTokens tokens, each starting
// OverlapTokens tokens before the previous window's end.
func (d *doc) fixedToken(lo, hi int) []piece {
	first, last := d.tokenRange(lo, hi)
	n := last - first
	if n <= d.cfg.MaxTokens {
		return []piece{{start: lo, end: hi, tokens: n}}
	}
	var out []piece
	for i := first; ; {
		j := min(i+d.cfg.MaxTokens, last)
		start, end := lo, hi
		if i > first {
			start = d.starts[i]
		}
		if j < last {
			end = d.starts[j]
		}
		out = append(out, piece{start: start, end: end, tokens: j - i})
		if j == last {
			return out
		}
		i = j - d.cfg.OverlapTokens
	}
}

// sentence packs whole sentences up to MaxTokens. A sentence longer than
// MaxTokens becomes a chunk of its own.
func (d *doc) sentence(lo, hi int) []piece {
	var out []piece
	for _, u := range d.units(level{kind: "sentence"}, lo, hi) {
		out = append(out, piece{start: u[0], end: u[1], tokens: d.tokensIn(u[0], u[1]), mergeable: true})
	}
	return d.pack(out)
}

// paragraph packs paragraphs, splitting oversized ones into fixed windows.
func (d *doc) paragraph(lo, hi int) []piece {
	return d.split(lo, hi, d.levels)
}

// recursive descends paragraph, then sentence, then fixed windows.
func (d *doc) recursive(lo, hi int) []piece {
	levels := append(append([]level(nil), d.levels...), level{kind: "sentence"})
	return d.split(lo, hi, levels)
}

// contextAware chunks each heading section independently and stamps every
// chunk with the path of enclosing headings.
func (d *doc) contextAware(lo, hi int) []piece {
	var out []piece
	for _, u := range d.units(level{kind: "heading"}, lo, hi) {
		path := d.headingPath(u[0])
		for _, p := range d.recursive(u[0], u[1]) {
			p.headings = path
			out = append(out, p)
		}
	}
	return out
}

// headingPath returns the titles of the headings enclosing position pos.
func (d *doc) headingPath(pos int) []string {
	var stack []segment.Heading
	for _, h := range d.headings {
		if h.Start > pos {
			break
		}
		for len(stack) > 0 && stack[len(stack)-1].Level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
	}
	if len(stack) == 0 {
		return nil
	}
	path := make([]string, len(stack))
	for i, h := range stack {
		path[i] = h.Title
	}
	return path
}

func (d *doc) split(lo, hi int, levels []level) []piece {
	n := d.tokensIn(lo, hi)
	if n <= d.cfg.MaxTokens {
		return []piece{{start: lo, end: hi, tokens: n, mergeable: true}}
	}
	if len(levels) == 0 {
		return d.fixedToken(lo, hi)
	}
	units := d.units(levels[0], lo, hi)
	if len(units) == 1 {
		return d.split(lo, hi, levels[1:])
	}
	var out []piece
	for _, u := range units {
		m := d.tokensIn(u[0], u[1])
		if m <= d.cfg.MaxTokens {
			out = append(out, piece{start: u[0], end: u[1], tokens: m, mergeable: true})
			continue
		}
		for _, p := range d.split(u[0], u[1], levels[1:]) {
			p.mergeable = false
			out = append(out, p)
		}
	}
	return d.pack(out)
}

// pack greedily merges runs of adjacent mergeable pieces while the merged
// token count stays within MaxTokens.
func (d *doc) pack(pieces []piece) []piece {
	var out []piece
	var cur *piece
	for _, p := range pieces {
		if !p.mergeable {
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			out = append(out, p)
			continue
		}
		if cur != nil && cur.tokens+p.tokens <= d.cfg.MaxTokens {
			cur.end = p.end
			cur.tokens += p.tokens
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		next := p
		cur = &next
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// absorbEmpty folds token-free pieces (whitespace between units) into a neighbour
// so that every chunk has content and spans stay contiguous.
func absorbEmpty(pieces []piece) []piece {
	out := pieces[:0]
	pending := -1
	for _, p := range pieces {
		if p.tokens == 0 {
			if len(out) > 0 {
				out[len(out)-1].end = p.end
			} else if pending < 0 {
				pending = p.start
			}
			continue
		}
		if pending >= 0 {
			p.start = pending
			pending = -1
		}
		out = append(out, p)
	}
	return out
}
