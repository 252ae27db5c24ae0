package api

import (
	"time"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/service"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Corpus    string `json:"corpus_version"`
	Documents int    `json:"documents"`
	Entries   int    `json:"entries"`
	Stale     bool   `json:"stale"`
}

// QueryRequest is the body of POST /api/v1/query and POST /api/v1/ask.
type QueryRequest struct {
	Query            string   `json:"query"`
	K                int      `json:"k,omitempty"`
	Documents        []string `json:"documents,omitempty"`
	ExcludeDocuments []string `json:"exclude_documents,omitempty"`
	MinScore         *float64 `json:"min_score,omitempty"`
}

func (r *QueryRequest) SetDefaults(topK int) {
	if r.K == 0 {
		r.K = topK
	}
}

func (r QueryRequest) Filters() domain.Filters {
	return domain.Filters{Documents: r.Documents, ExcludeDocuments: r.ExcludeDocuments, MinScore: r.MinScore}
}

type ChunkResponse struct {
	ID          string   `json:"id"`
	DocumentID  string   `json:"document_id"`
	Index       int      `json:"index"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	TokenCount  int      `json:"token_count"`
	Strategy    string   `json:"strategy"`
	HeadingPath []string `json:"heading_path,omitempty"`
	Text        string   `json:"text"`
}

type ScoredChunkResponse struct {
	ChunkResponse
	Score float64 `json:"score"`
}

type QueryResponse struct {
	Query   string                `json:"query"`
	Results []ScoredChunkResponse `json:"results"`
}

type AskResponse struct {
	Answer    string        `json:"answer"`
	Generator string        `json:"generator"`
	Context   QueryResponse `json:"context"`
}

type DocumentResponse struct {
	ID          string    `json:"id"`
	Format      string    `json:"format"`
	ContentHash string    `json:"content_hash"`
	Chunks      int       `json:"chunks"`
	Bytes       int       `json:"bytes"`
	IngestedAt  time.Time `json:"ingested_at"`
}

func NewChunkResponse(c domain.Chunk) ChunkResponse {
	return ChunkResponse{
		ID:          c.ID,
		DocumentID:  c.DocumentID,
		Index:       c.Index,
		Start:       c.Start,
		End:         c.End,
		TokenCount:  c.TokenCount,
		Strategy:    c.Strategy,
		HeadingPath: c.HeadingPath,
		Text:        c.Text,
	}
}

func NewQueryResponse(res domain.RetrievalResult) QueryResponse {
	out := QueryResponse{Query: res.Query, Results: make([]ScoredChunkResponse, 0, len(res.Results))}
	for _, sc := range res.Results {
		out.Results = append(out.Results, ScoredChunkResponse{ChunkResponse: NewChunkResponse(sc.Chunk), Score: sc.Score})
	}
	return out
}

func NewAskResponse(a service.Answer) AskResponse {
	return AskResponse{Answer: a.Text, Generator: a.Generator, Context: NewQueryResponse(a.Retrieval)}
}

func NewDocumentResponse(d domain.DocumentInfo) DocumentResponse {
	return DocumentResponse{
		ID:          d.ID,
		Format:      string(d.Format),
		ContentHash: d.ContentHash,
		Chunks:      d.Chunks,
		Bytes:       d.Bytes,
		IngestedAt:  d.IngestedAt,
	}
}
