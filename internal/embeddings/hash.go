package embeddings

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/fyrsmithlabs/mazemind/internal/config"
)

// DefaultHashDimension is used by the hash embedder when no session
// dimension is configured.
const DefaultHashDimension = 768

// HashEmbedding derives a unit vector from text alone by feature hashing its
// words and adjacent word pairs. Identical text always yields a
// bit-identical vector, and texts sharing words land close together.
func HashEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	acc := make([]float64, dim)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		// No words to hash; spread the whole text over the vector.
		state := xxhash.Sum64String(text)
		for i := range acc {
			state = splitmix64(state)
			acc[i] = float64(int64(state)) / math.MaxInt64
		}
	}
	for i, w := range words {
		addFeature(acc, xxhash.Sum64String(w), 1)
		if i > 0 {
			addFeature(acc, xxhash.Sum64String(words[i-1]+" "+w), 0.5)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	if norm == 0 {
		out[0] = 1
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func addFeature(acc []float64, h uint64, weight float64) {
	idx := h % uint64(len(acc))
	if h>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// HashClient serves HashEmbedding as a provider. It never fails and costs
// nothing.
type HashClient struct {
	dim int
}

// NewHashClient creates a hash embedder producing vectors of dim.
func NewHashClient(dim int) *HashClient {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashClient{dim: dim}
}

// Name implements Client.
func (c *HashClient) Name() string { return config.ProviderHash }

// Embed implements Client.
func (c *HashClient) Embed(_ context.Context, texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{}, ErrEmptyInput
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = HashEmbedding(t, c.dim)
	}
	return Batch{Vectors: vectors}, nil
}

// Probe implements Client.
func (c *HashClient) Probe(context.Context) error { return nil }
