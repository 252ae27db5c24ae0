package source

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RustdocMarkdown extracts the documentation body of a rustdoc page as
// markdown: headings, paragraphs, lists and fenced code blocks. Navigation,
// sidebars and scripts are dropped.
func RustdocMarkdown(r io.Reader) (string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	content := findByID(root, "main-content")
	if content == nil {
		content = findByID(root, "main")
	}
	if content == nil {
		content = findAtom(root, atom.Body)
	}
	if content == nil {
		content = root
	}
	var w mdWriter
	w.block(content)
	w.flush()
	return strings.TrimSpace(w.out.String()), nil
}

var skipAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Button: true,
	atom.Noscript: true, atom.Template: true, atom.Head: true, atom.Form: true,
}

var skipClasses = []string{"sidebar", "out-of-band", "anchor", "doc-anchor", "hideme", "src", "rustdoc-breadcrumbs", "search-form"}

func skipped(n *html.Node) bool {
	if skipAtoms[n.DataAtom] {
		return true
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		for _, s := range skipClasses {
			if c == s {
				return true
			}
		}
	}
	return false
}

type mdWriter struct {
	out  strings.Builder
	para strings.Builder
}

func (w *mdWriter) flush() {
	text := collapse(w.para.String())
	w.para.Reset()
	if text == "" {
		return
	}
	w.out.WriteString(text)
	w.out.WriteString("\n\n")
}

func (w *mdWriter) block(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			w.para.WriteString(c.Data)
			continue
		case html.ElementNode:
		default:
			continue
		}
		if skipped(c) {
			continue
		}
		switch c.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			w.flush()
			if title := collapse(inline(c)); title != "" {
				level := int(c.Data[1] - '0')
				w.out.WriteString(strings.Repeat("#", level) + " " + title + "\n\n")
			}
		case atom.Pre:
			w.flush()
			code := strings.Trim(textContent(c), "\n")
			if strings.TrimSpace(code) != "" {
				w.out.WriteString("```" + codeLanguage(c) + "\n" + code + "\n```\n\n")
			}
		case atom.P, atom.Dt, atom.Dd, atom.Summary:
			w.flush()
			w.para.WriteString(inline(c))
			w.flush()
		case atom.Li:
			w.flush()
			if item := collapse(inline(c)); item != "" {
				w.out.WriteString("- " + item + "\n")
			}
		case atom.Ul, atom.Ol:
			w.flush()
			w.block(c)
			w.out.WriteString("\n")
		case atom.Code:
			w.para.WriteString("`" + collapse(textContent(c)) + "`")
		case atom.Br:
			w.para.WriteString(" ")
		case atom.A, atom.Span, atom.Em, atom.Strong, atom.B, atom.I, atom.Wbr:
			w.para.WriteString(inline(c))
		default:
			w.flush()
			w.block(c)
			w.flush()
		}
	}
}

// inline renders phrasing content, marking code spans with backticks.
func inline(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				b.WriteString(c.Data)
			case c.Type != html.ElementNode || skipped(c):
			case c.DataAtom == atom.Br:
				b.WriteString(" ")
			case c.DataAtom == atom.Code:
				b.WriteString("`" + collapse(textContent(c)) + "`")
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			} else if c.Type == html.ElementNode {
				if c.DataAtom == atom.Br {
					b.WriteString("\n")
				}
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func codeLanguage(pre *html.Node) string {
	classes := attr(pre, "class")
	if code := findAtom(pre, atom.Code); code != nil {
		classes += " " + attr(code, "class")
	}
	for _, c := range strings.Fields(classes) {
		if lang, ok := strings.CutPrefix(c, "language-"); ok {
			return lang
		}
		if c == "rust" {
			return "rust"
		}
	}
	return ""
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAtom(c, a); found != nil {
			return found
		}
	}
	return nil
}
