package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Local derives deterministic pseudo-embeddings by expanding a SHA-256
// digest of the input. The same text always maps to the same unit vector,
// so similarity scores are stable across restarts. Useful for development
// without a provider; the vectors carry no semantic meaning.
type Local struct {
	dimensions int
}

// NewLocal builds a local embedding client with the given vector width.
func NewLocal(dimensions int) *Local {
	return &Local{dimensions: dimensions}
}

// Embed returns the deterministic vector for text.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))

	out := make([]float32, l.dimensions)
	var block [32]byte
	var norm float64

	for i := 0; i < l.dimensions; i++ {
		if i%8 == 0 {
			// Expand the seed one counter block at a time.
			h := sha256.New()
			h.Write(seed[:])
			var counter [4]byte
			binary.BigEndian.PutUint32(counter[:], uint32(i/8))
			h.Write(counter[:])
			copy(block[:], h.Sum(nil))
		}

		bits := binary.BigEndian.Uint32(block[(i%8)*4:])
		// Map to [-1, 1).
		v := float64(int32(bits)) / float64(math.MaxInt32)
		out[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= scale
		}
	}

	return out, nil
}

// Model returns the provider-qualified model name.
func (l *Local) Model() string { return "local/sha256-v1" }

// Dimensions returns the configured vector width.
func (l *Local) Dimensions() int { return l.dimensions }
