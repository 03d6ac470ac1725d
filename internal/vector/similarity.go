// Package vector provides the embedding vector type and similarity helpers.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Vector is a dense float32 embedding.
type Vector []float32

// CheckDim returns ErrDimensionMismatch unless v has exactly dim components.
func (v Vector) CheckDim(dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Both vectors must have the same non-zero length. If either has zero norm the
// result is 0.
func CosineSimilarity(a, b Vector) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := InnerProduct(a, b) / (na * nb)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x Vector) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// NormalizeL2 scales x in place to unit L2 norm. Zero vectors are left unchanged.
func NormalizeL2(x Vector) {
	n := L2Norm(x)
	if n == 0 {
		return
	}
	inv := float32(1 / n)
	for i := range x {
		x[i] *= inv
	}
}
