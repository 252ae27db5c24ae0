// Package tui implements the interactive retrieval explorer.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/segment"
)

// Retriever is the TUI-facing subset of the RAG service.
type Retriever interface {
	Query(ctx context.Context, query string, k int, filters domain.Filters) (domain.RetrievalResult, error)
}

type resultsMsg struct {
	query string
	res   domain.RetrievalResult
	err   error
}

// Model is the Bubble Tea model for the explorer.
type Model struct {
	ctx       context.Context
	retriever Retriever
	k         int
	filters   domain.Filters
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.ScoredChunk
	summary   string
	status    string
	cursor    int
	ready     bool
	searching bool
	lastQuery string
}

// New creates a new explorer. summary is shown under the title.
func New(ctx context.Context, retriever Retriever, k int, filters domain.Filters, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type query and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:       ctx,
		retriever: retriever,
		k:         k,
		filters:   filters,
		input:     ti,
		viewport:  vp,
		summary:   summary,
		status:    "Index loaded. Type to search.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) search(q string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.retriever.Query(m.ctx, q, m.k, m.filters)
		return resultsMsg{query: q, res: res, err: err}
	}
}

// Update handles key, window and result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		// title, summary, status and one spacer
		reserved := 4 + qh
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.searching = false
		if msg.err != nil {
			m.status = fmt.Sprintf("Error (%s): %v", domain.Kind(msg.err), msg.err)
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.res.Results), msg.query)
			m.results = msg.res.Results
			m.lastQuery = msg.query
		}
		m.cursor = 0
		m.viewport.SetContent(m.renderCurrentResult())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.searching {
				m.searching = true
				m.status = fmt.Sprintf("Searching for %q...", q)
				return m, m.search(q)
			}
			return m, nil
		case "down", "tab":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				m.viewport.GotoTop()
				return m, nil
			}
		case "up", "shift+tab":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				m.viewport.GotoTop()
				return m, nil
			}
		case "pgdown":
			m.viewport.HalfViewDown()
			return m, nil
		case "pgup":
			m.viewport.HalfViewUp()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the layout and the current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("RAG Explorer")
	summary := dimStyle.Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  score=%.3f", m.cursor+1, len(m.results), r.Score)
	source := r.Chunk.DocumentID
	if len(r.Chunk.HeadingPath) > 0 {
		source += "  " + strings.Join(r.Chunk.HeadingPath, " > ")
	}
	body := highlightBestSentence(r.Chunk.Text, m.lastQuery)
	return title + "\n" + dimStyle.Render(source) + "\n\n" + body
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightBestSentence renders text with the sentence sharing the most
// distinct words with query highlighted. The rest of the text is unchanged.
func highlightBestSentence(text, query string) string {
	best, ok := bestSentence(text, query)
	if !ok {
		return text
	}
	return text[:best.Start] + highlightStyle.Render(text[best.Start:best.End]) + text[best.End:]
}

func bestSentence(text, query string) (segment.Span, bool) {
	if strings.TrimSpace(text) == "" {
		return segment.Span{}, false
	}
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return segment.Span{}, false
	}
	seg, err := segment.Segment(text, domain.FormatPlain)
	if err != nil {
		seg = segment.Fallback(text)
	}
	bestScore := 0
	var best segment.Span
	for _, s := range seg.Sentences {
		score := 0
		for tok := range tokenSet(text[s.Start:s.End]) {
			if _, ok := qTokens[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			bestScore, best = score, s
		}
	}
	return best, bestScore > 0
}

func tokenSet(s string) map[string]struct{} {
	s = strings.ToLower(s)
	seg, err := segment.Segment(s, domain.FormatPlain)
	if err != nil {
		seg = segment.Fallback(s)
	}
	out := make(map[string]struct{}, len(seg.Tokens))
	for _, t := range seg.Tokens {
		word := s[t.Start:t.End]
		if len(word) < 2 {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}
