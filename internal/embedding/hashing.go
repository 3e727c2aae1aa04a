package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/cloo-solutions/resolvekb/internal/textproc"
)

// DefaultHashingDimension matches the output size of all-MiniLM-L6-v2
const DefaultHashingDimension = 384

// HashingEncoder is an offline encoder built on signed feature hashing of
// content tokens and adjacent token pairs. Texts that share vocabulary land
// close together; it carries no notion of synonymy.
type HashingEncoder struct {
	dim int
}

// NewHashingEncoder creates a HashingEncoder with dim buckets
func NewHashingEncoder(dim int) *HashingEncoder {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingEncoder{dim: dim}
}

// HashingLoader returns a Loader for a HashingEncoder
func HashingLoader(dim int) Loader {
	return func(ctx context.Context) (Encoder, error) {
		return NewHashingEncoder(dim), nil
	}
}

// Dimension returns the number of buckets
func (h *HashingEncoder) Dimension() int {
	return h.dim
}

// Encode implements Encoder. Output is not normalised.
func (h *HashingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashingEncoder) vector(text string) []float32 {
	vec := make([]float32, h.dim)

	tokens := textproc.ContentTokens(text)
	if len(tokens) == 0 {
		tokens = textproc.Tokens(text)
	}
	if len(tokens) == 0 {
		if s := strings.ToLower(strings.TrimSpace(text)); s != "" {
			tokens = []string{s}
		}
	}

	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return vec
}

func (h *HashingEncoder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()

	if sum>>63 == 1 {
		weight = -weight
	}
	vec[sum%uint64(h.dim)] += weight
}
