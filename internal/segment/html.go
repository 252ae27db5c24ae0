package segment

import (
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "body": true, "br": true,
	"dd": true, "details": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "summary": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

var headingLevels = map[string]int{"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6}

// segmentHTML walks the raw token stream so every span points into the original
// markup. It returns the visible text runs, the paragraphs delimited by block
// elements, and the h1-h6 headings.
func segmentHTML(text string) (runs, paragraphs []Span, headings []Heading) {
	z := html.NewTokenizer(strings.NewReader(text))
	var (
		offset  int
		hidden  int
		cur     = Span{-1, -1}
		heading *Heading
		title   strings.Builder
	)
	flush := func() {
		if cur.Start >= 0 {
			paragraphs = append(paragraphs, cur)
			cur = Span{-1, -1}
		}
	}
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF, or the tokenizer gave up; keep what was found so far.
			break
		}
		start := offset
		offset += len(z.Raw())

		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "template" {
				if tt == html.StartTagToken {
					hidden++
				} else if tt == html.EndTagToken && hidden > 0 {
					hidden--
				}
				continue
			}
			if blockTags[tag] {
				flush()
			}
			if level, ok := headingLevels[tag]; ok {
				switch {
				case tt == html.StartTagToken:
					heading = &Heading{Span: Span{start, start}, Level: level}
					title.Reset()
				case tt == html.EndTagToken && heading != nil:
					heading.End = offset
					heading.Title = strings.Join(strings.Fields(title.String()), " ")
					headings = append(headings, *heading)
					heading = nil
				}
			}
		case html.TextToken:
			if hidden > 0 {
				continue
			}
			s := trim(text, Span{start, offset})
			if s.Len() == 0 {
				continue
			}
			runs = append(runs, Span{start, offset})
			if cur.Start < 0 {
				cur.Start = s.Start
			}
			cur.End = s.End
			if heading != nil {
				title.WriteString(html.UnescapeString(text[start:offset]))
				title.WriteByte(' ')
			}
		}
	}
	flush()
	return runs, paragraphs, headings
}
