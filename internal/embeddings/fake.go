package embeddings

import (
	"context"
	"math"
	"sync"
)

// FakeProvider is a deterministic in-memory Provider for tests. Vectors are
// derived from the text content, so identical text always embeds to the
// same unit vector and different texts rarely collide.
type FakeProvider struct {
	Model string
	Dim   int

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// NewFakeProvider creates a FakeProvider with the given model version.
func NewFakeProvider(model string, dim int) *FakeProvider {
	return &FakeProvider{Model: model, Dim: dim}
}

// Calls returns the number of embedding calls made.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// EmbedDocuments embeds each text deterministically.
func (f *FakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds a single text deterministically.
func (f *FakeProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.vector(text), nil
}

// Dimension returns the configured dimension.
func (f *FakeProvider) Dimension() int {
	return f.Dim
}

// ModelVersion returns the configured model name.
func (f *FakeProvider) ModelVersion() string {
	return f.Model
}

// Close is a no-op.
func (f *FakeProvider) Close() error {
	return nil
}

// vector hashes the text into a unit vector.
func (f *FakeProvider) vector(text string) []float32 {
	vec := make([]float32, f.Dim)
	var h uint32 = 2166136261
	for _, b := range []byte(text) {
		h = (h ^ uint32(b)) * 16777619
	}
	var norm float64
	for i := range vec {
		h = h*1664525 + 1013904223
		vec[i] = float32(h%1000)/1000.0 - 0.5
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

var _ Provider = (*FakeProvider)(nil)
