package embedding

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/lancet/api/schemas"
)

// Cosine returns the cosine similarity of a and b. Zero vectors score 0.
// Mismatched lengths use the shorter prefix.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e schemas.Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, schemas.Errorf(schemas.ErrKindRetrieval, "embed", "expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatched embeds texts in consecutive batches of batchSize, running up to
// concurrency batches at once. The result is aligned with texts.
func EmbedBatched(ctx context.Context, e schemas.Embedder, texts []string, batchSize, concurrency int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < len(texts); start += batchSize {
		start, end := start, min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
