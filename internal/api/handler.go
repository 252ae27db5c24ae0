// Package api exposes retrieval over HTTP with go-restful.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/service"
)

const Version = "1.0.0"

// Service is the part of service.RAGService the handlers use.
type Service interface {
	Query(ctx context.Context, query string, k int, filters domain.Filters) (domain.RetrievalResult, error)
	Ask(ctx context.Context, question string, k int, filters domain.Filters) (service.Answer, error)
	Documents(ctx context.Context) ([]domain.DocumentInfo, error)
	Document(ctx context.Context, id string) (domain.DocumentInfo, error)
	Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	Status(ctx context.Context) (service.Status, error)
}

type Handler struct {
	svc    Service
	topK   int
	logger *zerolog.Logger
}

func NewHandler(svc Service, topK int, logger *zerolog.Logger) *Handler {
	if topK <= 0 {
		topK = 5
	}
	return &Handler{svc: svc, topK: topK, logger: logger}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(req *restful.Request, resp *restful.Response) {
	st, err := h.svc.Status(req.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read corpus status")
		HandleError(resp, err, StatusFor(err))
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   Version,
		Corpus:    st.Version,
		Documents: st.Documents,
		Entries:   st.Entries,
		Stale:     st.Stale,
	})
}

// Query handles POST /api/v1/query
func (h *Handler) Query(req *restful.Request, resp *restful.Response) {
	q, ok := h.readQuery(req, resp)
	if !ok {
		return
	}
	res, err := h.svc.Query(req.Request.Context(), q.Query, q.K, q.Filters())
	if err != nil {
		h.fail(resp, "Query failed", err)
		return
	}
	h.logger.Info().Str("query", q.Query).Int("k", q.K).Int("results", len(res.Results)).Msg("Query served")
	_ = resp.WriteHeaderAndEntity(http.StatusOK, NewQueryResponse(res))
}

// Ask handles POST /api/v1/ask
func (h *Handler) Ask(req *restful.Request, resp *restful.Response) {
	q, ok := h.readQuery(req, resp)
	if !ok {
		return
	}
	answer, err := h.svc.Ask(req.Request.Context(), q.Query, q.K, q.Filters())
	if err != nil {
		h.fail(resp, "Ask failed", err)
		return
	}
	h.logger.Info().Str("query", q.Query).Str("generator", answer.Generator).Msg("Answer generated")
	_ = resp.WriteHeaderAndEntity(http.StatusOK, NewAskResponse(answer))
}

// Documents handles GET /api/v1/documents
func (h *Handler) Documents(req *restful.Request, resp *restful.Response) {
	docs, err := h.svc.Documents(req.Request.Context())
	if err != nil {
		h.fail(resp, "Listing documents failed", err)
		return
	}
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, NewDocumentResponse(d))
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, out)
}

// Document handles GET /api/v1/documents/{id} and GET /api/v1/documents/{id}/chunks.
// Document ids contain slashes, so the id is the remainder of the path.
func (h *Handler) Document(req *restful.Request, resp *restful.Response) {
	id := strings.TrimPrefix(req.PathParameter("id"), "/")
	ctx := req.Request.Context()
	if docID, ok := strings.CutSuffix(id, "/chunks"); ok {
		chunks, err := h.svc.Chunks(ctx, docID)
		if err == nil {
			out := make([]ChunkResponse, 0, len(chunks))
			for _, c := range chunks {
				out = append(out, NewChunkResponse(c))
			}
			_ = resp.WriteHeaderAndEntity(http.StatusOK, out)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.fail(resp, "Listing chunks failed", err)
			return
		}
		// fall through: the id itself may end in /chunks
	}
	info, err := h.svc.Document(ctx, id)
	if err != nil {
		h.fail(resp, "Document lookup failed", err)
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, NewDocumentResponse(info))
}

func (h *Handler) readQuery(req *restful.Request, resp *restful.Response) (QueryRequest, bool) {
	var q QueryRequest
	if err := req.ReadEntity(&q); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse request body")
		HandleError(resp, err, http.StatusBadRequest)
		return q, false
	}
	q.SetDefaults(h.topK)
	switch {
	case strings.TrimSpace(q.Query) == "":
		HandleError(resp, errors.New("query must not be empty"), http.StatusBadRequest)
		return q, false
	case q.K < 0:
		HandleError(resp, errors.New("k must be positive"), http.StatusBadRequest)
		return q, false
	}
	return q, true
}

func (h *Handler) fail(resp *restful.Response, msg string, err error) {
	status := StatusFor(err)
	ev := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("kind", domain.Kind(err)).Msg(msg)
	HandleError(resp, err, status)
}
