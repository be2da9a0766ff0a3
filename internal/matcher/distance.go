package matcher

import (
	"errors"
	"fmt"
	"math"
)

// Embedding is a face feature vector.
type Embedding []float64

// ErrZeroVector is returned when an embedding has no direction.
var ErrZeroVector = errors.New("zero-norm embedding")

// CosineDistance returns 1 - cos(a, b). The result lies in [0, 2]; lower
// means more similar.
func CosineDistance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine distance: dimension mismatch %d != %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("cosine distance: %w", ErrZeroVector)
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("cosine distance: %w", ErrZeroVector)
	}

	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	// Rounding can push identical vectors slightly below zero.
	if d < 0 {
		d = 0
	}
	return d, nil
}
