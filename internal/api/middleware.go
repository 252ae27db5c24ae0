package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/domain"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Status int    `json:"status"`
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrEmptyIndex), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrMalformedInput),
		errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func HandleError(resp *restful.Response, err error, status int) {
	kind := domain.Kind(err)
	if status == http.StatusBadRequest && kind == domain.KindInternal {
		kind = domain.KindMalformedInput
	}
	_ = resp.WriteHeaderAndEntity(status, ErrorResponse{Error: err.Error(), Kind: kind, Status: status})
}

// Logger returns a filter logging one line per request.
func Logger(logger *zerolog.Logger) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		start := time.Now()
		chain.ProcessFilter(req, resp)
		logger.Info().
			Str("method", req.Request.Method).
			Str("path", req.Request.URL.Path).
			Int("status", resp.StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func RecoverPanic(logger *zerolog.Logger) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Str("path", req.Request.URL.Path).
					Msg("handler panicked")
				HandleError(resp, fmt.Errorf("internal error"), http.StatusInternalServerError)
			}
		}()
		chain.ProcessFilter(req, resp)
	}
}
