package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Limited splits batches and bounds the number of in-flight calls to the
// wrapped embedder. Callers over the limit wait for a free slot.
type Limited struct {
	next      Embedder
	sem       *semaphore.Weighted
	batchSize int
}

// WithLimit allows at most concurrency calls at once, each with at most batchSize texts.
func WithLimit(next Embedder, concurrency, batchSize int) *Limited {
	if concurrency < 1 {
		concurrency = 1
	}
	if batchSize < 1 {
		batchSize = 32
	}
	return &Limited{next: next, sem: semaphore.NewWeighted(int64(concurrency)), batchSize: batchSize}
}

func (l *Limited) Name() string   { return l.next.Name() }
func (l *Limited) Dimension() int { return l.next.Dimension() }

func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.next.Embed(ctx, text)
}

func (l *Limited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(texts); lo += l.batchSize {
		hi := min(lo+l.batchSize, len(texts))
		g.Go(func() error {
			if err := l.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer l.sem.Release(1)
			vecs, err := l.next.EmbedBatch(gctx, texts[lo:hi])
			if err != nil {
				return err
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("%s returned %d vectors for %d inputs", l.next.Name(), len(vecs), hi-lo)
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
