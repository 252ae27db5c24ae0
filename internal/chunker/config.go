package chunker

import (
	"fmt"
	"strings"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// Strategy selects the chunking algorithm.
type Strategy int

const (
	FixedToken Strategy = iota
	Sentence
	Paragraph
	Recursive
	ContextAware
)

var strategyNames = [...]string{
	FixedToken:   "fixed_token",
	Sentence:     "sentence",
	Paragraph:    "paragraph",
	Recursive:    "recursive",
	ContextAware: "context_aware",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// ParseStrategy accepts names like "fixed_token", "FixedToken" or "context-aware".
func ParseStrategy(name string) (Strategy, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(name))
	switch norm {
	case "fixedtoken", "fixed", "token":
		return FixedToken, nil
	case "sentence":
		return Sentence, nil
	case "paragraph":
		return Paragraph, nil
	case "recursive":
		return Recursive, nil
	case "contextaware", "heading", "markdown":
		return ContextAware, nil
	}
	return 0, fmt.Errorf("%w: unknown chunking strategy %q", domain.ErrInvalidConfig, name)
}

// Config configures a chunker. Overlap applies to fixed-size token windows,
// including the fallback used when a unit exceeds MaxTokens.
type Config struct {
	Strategy      Strategy
	MaxTokens     int
	OverlapTokens int
	// Separators, when set, replace paragraph detection with literal split
	// points, tried in order from coarsest to finest.
	Separators []string
}

// Validate rejects configurations that cannot produce bounded chunks.
func (c Config) Validate() error {
	if c.Strategy < FixedToken || c.Strategy > ContextAware {
		return fmt.Errorf("%w: unknown chunking strategy %d", domain.ErrInvalidConfig, int(c.Strategy))
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", domain.ErrInvalidConfig, c.MaxTokens)
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		return fmt.Errorf("%w: overlap_tokens must be in [0, %d), got %d", domain.ErrInvalidConfig, c.MaxTokens, c.OverlapTokens)
	}
	for i, sep := range c.Separators {
		if sep == "" {
			return fmt.Errorf("%w: separator %d is empty", domain.ErrInvalidConfig, i)
		}
	}
	return nil
}

// Fingerprint identifies the configuration for staleness checks.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("%s/max=%d/overlap=%d/sep=%q", c.Strategy, c.MaxTokens, c.OverlapTokens, c.Separators)
}
