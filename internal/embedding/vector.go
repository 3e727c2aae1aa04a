package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
)

var (
	// ErrZeroVector is returned when a vector has no direction
	ErrZeroVector = errors.New("embedding has zero norm")
	// ErrNonFinite is returned when a vector holds NaN or Inf
	ErrNonFinite = errors.New("embedding has non-finite component")
)

// Normalize returns v scaled to unit L2 norm
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrNonFinite
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Dot returns the inner product of a and b, which is their cosine similarity
// when both are normalised. Vectors of different length score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Norm returns the L2 norm of v
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// CacheKey addresses a vector by model and exact text
func CacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
