package source

import (
	"context"
	"strings"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// Mux routes "crate:" identifiers to the crate source and everything else to
// the file source.
type Mux struct {
	Crates domain.Source
	Files  domain.Source
}

var _ domain.Source = (*Mux)(nil)

func (m *Mux) Fetch(ctx context.Context, identifier string) ([]domain.Document, error) {
	if strings.HasPrefix(identifier, CratePrefix) {
		return m.Crates.Fetch(ctx, identifier)
	}
	return m.Files.Fetch(ctx, identifier)
}
