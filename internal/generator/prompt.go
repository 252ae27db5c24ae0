// Package generator turns a question and its retrieved chunks into an answer,
// either extractively or through a chat model.
package generator

import (
	"fmt"
	"strings"

	"github.com/dangattringer/rust-rag/internal/domain"
)

const systemPrompt = "You answer questions about Rust crate documentation. " +
	"Use only the numbered context passages. Cite passages as [n]. " +
	"If the context does not contain the answer, say so."

// BuildPrompt lays out the retrieved chunks as numbered passages followed by
// the question.
func BuildPrompt(question string, result domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for i, r := range result.Results {
		fmt.Fprintf(&b, "[%d] %s", i+1, r.Chunk.DocumentID)
		if len(r.Chunk.HeadingPath) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(r.Chunk.HeadingPath, " > "))
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(r.Chunk.Text))
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}
