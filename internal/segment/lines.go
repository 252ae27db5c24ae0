package segment

import (
	"regexp"
	"strings"
)

var atxHeadingRe = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.*?)[ \t#]*$`)

// segmentLines finds paragraphs separated by blank lines. With markdown set,
// ATX headings form their own paragraphs and fenced code blocks are never split.
func segmentLines(text string, markdown bool) ([]Span, []Heading) {
	var (
		paragraphs []Span
		headings   []Heading
		cur        = Span{-1, -1}
		fence      string
	)
	flush := func() {
		if cur.Start >= 0 {
			paragraphs = append(paragraphs, trim(text, cur))
			cur = Span{-1, -1}
		}
	}
	for start := 0; start < len(text); {
		end := strings.IndexByte(text[start:], '\n')
		next := len(text)
		if end < 0 {
			end = len(text)
		} else {
			end += start
			next = end + 1
		}
		line := strings.TrimRight(text[start:end], "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case markdown && fence != "":
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			cur.End = end
		case markdown && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")):
			fence = trimmed[:3]
			if cur.Start < 0 {
				cur.Start = start
			}
			cur.End = end
		case trimmed == "":
			flush()
		case markdown && atxHeadingRe.MatchString(line):
			flush()
			m := atxHeadingRe.FindStringSubmatch(line)
			h := Heading{Span: trim(text, Span{start, end}), Level: len(m[1]), Title: strings.TrimSpace(m[2])}
			headings = append(headings, h)
			paragraphs = append(paragraphs, h.Span)
		default:
			if cur.Start < 0 {
				cur.Start = start
			}
			cur.End = end
		}
		start = next
	}
	flush()
	return paragraphs, headings
}
