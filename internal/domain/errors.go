package domain

import (
	"context"
	"errors"
)

var (
	ErrMalformedInput       = errors.New("malformed input")
	ErrInvalidConfig        = errors.New("invalid config")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrDuplicateID          = errors.New("duplicate id")
	ErrEmptyIndex           = errors.New("empty index")
	ErrTimedOut             = errors.New("timed out")
	ErrFetch                = errors.New("fetch failed")
	ErrNotFound             = errors.New("not found")
)

// Error kinds as reported in ingest summaries and API responses.
const (
	KindMalformedInput       = "MalformedInputError"
	KindInvalidConfig        = "InvalidConfigError"
	KindEmbeddingUnavailable = "EmbeddingUnavailableError"
	KindDimensionMismatch    = "DimensionMismatchError"
	KindDuplicateID          = "DuplicateIdError"
	KindEmptyIndex           = "EmptyIndexError"
	KindTimedOut             = "TimedOutError"
	KindFetch                = "FetchError"
	KindNotFound             = "NotFoundError"
	KindCanceled             = "CanceledError"
	KindInternal             = "InternalError"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrTimedOut, KindTimedOut},
	{ErrMalformedInput, KindMalformedInput},
	{ErrInvalidConfig, KindInvalidConfig},
	{ErrEmbeddingUnavailable, KindEmbeddingUnavailable},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrDuplicateID, KindDuplicateID},
	{ErrEmptyIndex, KindEmptyIndex},
	{ErrFetch, KindFetch},
	{ErrNotFound, KindNotFound},
}

// Kind returns the taxonomy name of err, or "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimedOut
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}
