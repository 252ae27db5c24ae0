package generator

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/segment"
)

// NoAnswer is returned when nothing was retrieved.
const NoAnswer = "No relevant documentation found."

// Extractive answers by quoting the retrieved sentences that best cover the
// question. It needs no model and is deterministic.
type Extractive struct {
	maxSentences int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ domain.Generator = (*Extractive)(nil)

// NewExtractive returns a generator quoting at most maxSentences sentences.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &Extractive{
		maxSentences: maxSentences,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}_]+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

func (e *Extractive) Name() string { return "extractive" }

type candidate struct {
	text  string
	rank  int // position of the owning chunk in the retrieval result
	order int // position of the sentence in the chunk
	score float64
}

// Generate ranks sentences by query term overlap, weighted by corpus term
// frequency and the owning chunk's similarity, and returns the best ones in
// retrieval order.
func (e *Extractive) Generate(ctx context.Context, query string, result domain.RetrievalResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(result.Results) == 0 {
		return NoAnswer, nil
	}

	queryTerms := map[string]struct{}{}
	for _, tok := range e.tokens(query) {
		queryTerms[tok] = struct{}{}
	}

	var sentences []candidate
	freq := map[string]float64{}
	for rank, r := range result.Results {
		seg, err := segment.Segment(r.Chunk.Text, domain.FormatPlain)
		if err != nil {
			seg = segment.Fallback(r.Chunk.Text)
		}
		spans := seg.Sentences
		if len(spans) == 0 {
			spans = []segment.Span{{Start: 0, End: len(r.Chunk.Text)}}
		}
		for order, sp := range spans {
			text := strings.TrimSpace(r.Chunk.Text[sp.Start:sp.End])
			if text == "" {
				continue
			}
			sentences = append(sentences, candidate{text: text, rank: rank, order: order})
			for _, tok := range e.tokens(text) {
				freq[tok]++
			}
		}
	}

	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	for i := range sentences {
		s := &sentences[i]
		toks := e.tokens(s.text)
		if len(toks) == 0 {
			continue
		}
		var overlap, weight float64
		for _, tok := range toks {
			if _, ok := queryTerms[tok]; ok {
				overlap++
			}
			weight += freq[tok] / maxF
		}
		relevance := math.Max(result.Results[s.rank].Score, 0)
		s.score = (2*overlap + weight/math.Sqrt(float64(len(toks)))) * (0.5 + relevance)
	}

	sort.SliceStable(sentences, func(i, j int) bool { return sentences[i].score > sentences[j].score })
	seen := map[string]bool{}
	var picked []candidate
	for _, s := range sentences {
		if len(picked) == e.maxSentences {
			break
		}
		if seen[s.text] {
			continue
		}
		seen[s.text] = true
		picked = append(picked, s)
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].rank != picked[j].rank {
			return picked[i].rank < picked[j].rank
		}
		return picked[i].order < picked[j].order
	})

	var b strings.Builder
	for i, s := range picked {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s.text)
	}
	b.WriteString("\n\nSources:")
	cited := map[string]bool{}
	for _, s := range picked {
		doc := result.Results[s.rank].Chunk.DocumentID
		if !cited[doc] {
			cited[doc] = true
			b.WriteString("\n- " + doc)
		}
	}
	return b.String(), nil
}

func (e *Extractive) tokens(text string) []string {
	var out []string
	for _, tok := range e.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now", "how", "what", "do", "does", "i",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
