package embeddings

import "context"

// Static returns the same vector for every input. It exists for tests that
// need an embedding client but do not care about the values.
type Static struct {
	dimensions int
}

// NewStatic builds a static embedding client with the given vector width.
func NewStatic(dimensions int) *Static {
	return &Static{dimensions: dimensions}
}

// Embed returns a constant vector regardless of text.
func (s *Static) Embed(_ context.Context, _ string) ([]float32, error) {
	out := make([]float32, s.dimensions)
	for i := range out {
		out[i] = 0.01
	}
	return out, nil
}

// Model returns the provider-qualified model name.
func (s *Static) Model() string { return "static/fixed" }

// Dimensions returns the configured vector width.
func (s *Static) Dimensions() int { return s.dimensions }
