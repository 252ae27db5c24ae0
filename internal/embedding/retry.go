package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// RetryPolicy bounds how often and how fast a failing embedding call is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads each delay uniformly by +/- this fraction.
	Jitter float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 0.2}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: retry max_attempts must be >= 1, got %d", domain.ErrInvalidConfig, p.MaxAttempts)
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("%w: retry delays must not be negative", domain.ErrInvalidConfig)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("%w: retry jitter must be in [0, 1], got %g", domain.ErrInvalidConfig, p.Jitter)
	}
	return nil
}

// Backoff returns the delay before retry number attempt (0-based):
// BaseDelay doubled per attempt, capped at MaxDelay, then jittered.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.MaxDelay
	if attempt < 32 {
		if shifted := p.BaseDelay << attempt; shifted > 0 && shifted < p.MaxDelay {
			d = shifted
		}
	}
	if p.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + p.Jitter*(2*rand.Float64()-1)))
	}
	return d
}

// Do runs op until it succeeds, fails permanently, the context ends or
// MaxAttempts is reached. Exhausted retries and permanent failures wrap
// domain.ErrEmbeddingUnavailable unless the error already carries a kind.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) {
			return unavailable(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrEmbeddingUnavailable, attempts, lastErr)
}

// unavailable tags err with domain.ErrEmbeddingUnavailable when it has no
// domain kind of its own, so a rejected request is not reported as internal.
func unavailable(err error) error {
	if domain.Kind(err) != domain.KindInternal {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retrying retries the wrapped embedder under a RetryPolicy and checks that
// every vector has the declared dimension.
type Retrying struct {
	next   Embedder
	policy RetryPolicy
	logger zerolog.Logger
}

// WithRetry wraps next with policy.
func WithRetry(next Embedder, policy RetryPolicy, logger zerolog.Logger) *Retrying {
	return &Retrying{next: next, policy: policy, logger: logger}
}

func (r *Retrying) Name() string   { return r.next.Name() }
func (r *Retrying) Dimension() int { return r.next.Dimension() }

func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		vec, err := r.next.Embed(ctx, text)
		if err != nil {
			r.logFailure(err, attempt, 1)
			return err
		}
		if err := r.checkDimension(vec); err != nil {
			return err
		}
		out = vec
		return nil
	})
	return out, err
}

func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		vecs, err := r.next.EmbedBatch(ctx, texts)
		if err != nil {
			r.logFailure(err, attempt, len(texts))
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("%s returned %d vectors for %d inputs", r.next.Name(), len(vecs), len(texts))
		}
		for _, v := range vecs {
			if err := r.checkDimension(v); err != nil {
				return err
			}
		}
		out = vecs
		return nil
	})
	return out, err
}

func (r *Retrying) checkDimension(vec []float32) error {
	if len(vec) != r.next.Dimension() {
		return Permanent(fmt.Errorf("%w: %s returned %d values, declared %d",
			domain.ErrDimensionMismatch, r.next.Name(), len(vec), r.next.Dimension()))
	}
	return nil
}

func (r *Retrying) logFailure(err error, attempt, inputs int) {
	r.logger.Warn().
		Err(err).
		Str("embedder", r.next.Name()).
		Int("attempt", attempt+1).
		Int("max_attempts", r.policy.MaxAttempts).
		Int("inputs", inputs).
		Bool("permanent", IsPermanent(err)).
		Msg("Embedding call failed")
}
