package vectorindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/xkilldash9x/lancet/api/schemas"
)

// FlatIndex is an exact nearest-neighbour index over squared L2 distance.
// It is immutable after construction and safe for concurrent searches.
type FlatIndex struct {
	vectors [][]float32
	dim     int
}

// NewFlatIndex copies nothing; callers must not mutate vectors afterwards.
func NewFlatIndex(vectors [][]float32) (*FlatIndex, error) {
	idx := &FlatIndex{vectors: vectors}
	for i, v := range vectors {
		if i == 0 {
			idx.dim = len(v)
			continue
		}
		if len(v) != idx.dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), idx.dim)
		}
	}
	return idx, nil
}

func (f *FlatIndex) Size() int { return len(f.vectors) }

// Dim is the vector dimensionality, zero for an empty index.
func (f *FlatIndex) Dim() int { return f.dim }

// Search returns the min(k, Size()) closest vectors by ascending distance.
// Ties keep index order.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]schemas.Neighbor, error) {
	if len(f.vectors) == 0 {
		return nil, schemas.Errorf(schemas.ErrKindRetrieval, "search", "index is empty")
	}
	if len(query) != f.dim {
		return nil, schemas.Errorf(schemas.ErrKindRetrieval, "search", "query dimension %d, index dimension %d", len(query), f.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, schemas.NewError(schemas.ErrKindRetrieval, "search", err)
	}

	all := make([]schemas.Neighbor, len(f.vectors))
	for i, v := range f.vectors {
		all[i] = schemas.Neighbor{Index: i, Distance: squaredL2(query, v)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })

	if k > len(all) {
		k = len(all)
	}
	if k < 0 {
		k = 0
	}
	return all[:k], nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
