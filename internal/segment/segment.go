// Package segment splits raw document text into tokens, sentences, paragraphs
// and headings. All offsets are byte offsets into the input text.
package segment

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Heading is a structural heading. Span covers the heading line or element.
type Heading struct {
	Span
	Level int
	Title string
}

// Segmentation is the result of segmenting one text. Spans are sorted and tight:
// they never start or end with whitespace.
type Segmentation struct {
	Format     domain.Format
	Length     int
	Tokens     []Span
	Sentences  []Span
	Paragraphs []Span
	Headings   []Heading
}

// TokenCount returns the number of tokens in the whole text.
func (s *Segmentation) TokenCount() int { return len(s.Tokens) }

// Segment segments text according to its format. It fails with
// domain.ErrMalformedInput only when text is not valid UTF-8.
func Segment(text string, format domain.Format) (*Segmentation, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: invalid utf-8 at byte %d", domain.ErrMalformedInput, firstInvalid(text))
	}
	seg := &Segmentation{Format: format, Length: len(text)}
	var runs []Span
	switch format {
	case domain.FormatHTML:
		runs, seg.Paragraphs, seg.Headings = segmentHTML(text)
	case domain.FormatMarkdown:
		seg.Paragraphs, seg.Headings = segmentLines(text, true)
		runs = []Span{{0, len(text)}}
	default:
		seg.Paragraphs, _ = segmentLines(text, false)
		runs = []Span{{0, len(text)}}
	}
	for _, r := range runs {
		seg.Tokens = appendTokens(seg.Tokens, text, r)
	}
	for _, p := range seg.Paragraphs {
		seg.Sentences = appendSentences(seg.Sentences, text, p)
	}
	return seg, nil
}

// Fallback segments text without trusting its encoding: tokens are runs of
// non-whitespace bytes and the whole text is one sentence and one paragraph.
func Fallback(text string) *Segmentation {
	seg := &Segmentation{Format: domain.FormatPlain, Length: len(text)}
	start := -1
	for i := 0; i < len(text); i++ {
		if isSpaceByte(text[i]) {
			if start >= 0 {
				seg.Tokens = append(seg.Tokens, Span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		seg.Tokens = append(seg.Tokens, Span{start, len(text)})
	}
	if n := len(seg.Tokens); n > 0 {
		whole := Span{seg.Tokens[0].Start, seg.Tokens[n-1].End}
		seg.Sentences = []Span{whole}
		seg.Paragraphs = []Span{whole}
	}
	return seg
}

// CountTokens estimates the number of tokens in plain text.
func CountTokens(text string) int {
	if !utf8.ValidString(text) {
		return len(Fallback(text).Tokens)
	}
	return len(appendTokens(nil, text, Span{0, len(text)}))
}

// appendTokens adds one token per Unicode word segment in r that is not whitespace.
// Punctuation marks count as their own tokens.
func appendTokens(dst []Span, text string, r Span) []Span {
	rest := text[r.Start:r.End]
	pos := r.Start
	state := -1
	var word string
	for len(rest) > 0 {
		word, rest, state = uniseg.FirstWordInString(rest, state)
		if !isBlank(word) {
			dst = append(dst, Span{pos, pos + len(word)})
		}
		pos += len(word)
	}
	return dst
}

// appendSentences adds the sentences of paragraph p. Unicode sentence rules break
// at every line end, so a line that does not end in terminal punctuation is
// joined with the following line.
func appendSentences(dst []Span, text string, p Span) []Span {
	rest := text[p.Start:p.End]
	pos := p.Start
	state := -1
	var sentence string
	open := -1
	for len(rest) > 0 {
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		start, end := pos, pos+len(sentence)
		pos = end
		trimmed := trim(text, Span{start, end})
		if trimmed.Len() == 0 {
			continue
		}
		if open < 0 {
			open = trimmed.Start
		}
		if len(rest) > 0 && !endsSentence(text[trimmed.Start:trimmed.End]) && strings.HasSuffix(sentence, "\n") {
			continue
		}
		dst = append(dst, Span{open, trimmed.End})
		open = -1
	}
	if open >= 0 {
		dst = append(dst, Span{open, p.End})
	}
	return dst
}

func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '!', '?', ':', ';', '…', '。', '！', '？':
		return true
	}
	return false
}

// trim shrinks s so it neither starts nor ends with whitespace.
func trim(text string, s Span) Span {
	for s.Start < s.End {
		r, size := utf8.DecodeRuneInString(text[s.Start:s.End])
		if !unicode.IsSpace(r) {
			break
		}
		s.Start += size
	}
	for s.End > s.Start {
		r, size := utf8.DecodeLastRuneInString(text[s.Start:s.End])
		if !unicode.IsSpace(r) {
			break
		}
		s.End -= size
	}
	return s
}

func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func firstInvalid(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
