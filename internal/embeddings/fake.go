package embeddings

import "context"

// FakeDimension is the length of every FakeEmbedder vector.
const FakeDimension = 10

// FakeEmbedder returns deterministic vectors without any backend. Vector i
// of a document batch is nine 1.0 values followed by float32(i); a query
// vector ends in 0.
type FakeEmbedder struct{}

// NewFakeEmbedder returns a FakeEmbedder.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{}
}

func fakeVector(last float32) []float32 {
	v := make([]float32, FakeDimension)
	for i := range FakeDimension - 1 {
		v[i] = 1
	}
	v[FakeDimension-1] = last
	return v
}

// EmbedDocuments returns one vector per text, tagged with its position.
func (f *FakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = fakeVector(float32(i))
	}
	return out, nil
}

// EmbedQuery returns the position-zero vector regardless of text.
func (f *FakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return fakeVector(0), nil
}

// Dimension returns FakeDimension.
func (f *FakeEmbedder) Dimension() int { return FakeDimension }

// Close is a no-op.
func (f *FakeEmbedder) Close() error { return nil }
