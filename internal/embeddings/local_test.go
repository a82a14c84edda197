package embeddings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	mu        sync.Mutex
	calls     [][]string
	batchSize int
	err       error
	destroyed bool
}

func (m *stubModel) Embed(texts []string, batchSize int) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, texts)
	m.batchSize = batchSize
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
	}
	return out, nil
}

func (m *stubModel) Destroy() error {
	m.destroyed = true
	return nil
}

// withStubModel swaps the model loader for the duration of the test.
func withStubModel(t *testing.T, m *stubModel, loadErr error) *LocalModelConfig {
	t.Helper()
	var got LocalModelConfig
	orig := loadLocalModel
	loadLocalModel = func(cfg LocalModelConfig) (localModel, int, error) {
		got = cfg
		if loadErr != nil {
			return nil, 0, loadErr
		}
		return m, 384, nil
	}
	t.Cleanup(func() { loadLocalModel = orig })
	return &got
}

func TestLocalModelEmbedder_Defaults(t *testing.T) {
	m := &stubModel{}
	loaded := withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, DefaultModel, loaded.Model)
	assert.Equal(t, 512, loaded.MaxLength)
	assert.NotEmpty(t, loaded.CacheDir)
	assert.Equal(t, 384, e.Dimension())
}

func TestLocalModelEmbedder_EmbedDocuments(t *testing.T) {
	m := &stubModel{}
	withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{BatchSize: 8})
	require.NoError(t, err)

	vecs, err := e.EmbedDocuments(context.Background(), []string{"ab\ncd", "x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 0}, {1, 1}}, vecs)
	assert.Equal(t, [][]string{{"ab cd", "x"}}, m.calls)
	assert.Equal(t, 8, m.batchSize)
}

func TestLocalModelEmbedder_EmptyInputSkipsModel(t *testing.T) {
	m := &stubModel{}
	withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{})
	require.NoError(t, err)

	vecs, err := e.EmbedDocuments(context.Background(), []string{})
	require.NoError(t, err)
	assert.NotNil(t, vecs)
	assert.Empty(t, vecs)
	assert.Empty(t, m.calls)
}

func TestLocalModelEmbedder_EmbedQuery(t *testing.T) {
	m := &stubModel{}
	withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{})
	require.NoError(t, err)

	vec, err := e.EmbedQuery(context.Background(), "a\nb")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0}, vec)
	assert.Equal(t, [][]string{{"a b"}}, m.calls)
}

func TestLocalModelEmbedder_ModelError(t *testing.T) {
	m := &stubModel{err: errors.New("onnx: bad input")}
	withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{})
	require.NoError(t, err)

	vecs, err := e.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Nil(t, vecs)

	_, err = e.EmbedQuery(context.Background(), "a")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestLocalModelEmbedder_LoadFailure(t *testing.T) {
	withStubModel(t, nil, errors.New("download failed"))

	e, err := NewLocalModelEmbedder(LocalModelConfig{Model: "BAAI/bge-base-en-v1.5"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "download failed")
	assert.Nil(t, e)
}

func TestLocalModelEmbedder_InvalidConfig(t *testing.T) {
	withStubModel(t, &stubModel{}, nil)

	_, err := NewLocalModelEmbedder(LocalModelConfig{MaxLength: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewLocalModelEmbedder(LocalModelConfig{BatchSize: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLocalModelEmbedder_CanceledContext(t *testing.T) {
	m := &stubModel{}
	withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.EmbedDocuments(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.calls)
}

func TestLocalModelEmbedder_Close(t *testing.T) {
	m := &stubModel{}
	withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.True(t, m.destroyed)
	require.NoError(t, e.Close(), "second close is a no-op")

	_, err = e.EmbedQuery(context.Background(), "a")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestLocalModelEmbedder_ConcurrentCalls(t *testing.T) {
	m := &stubModel{}
	withStubModel(t, m, nil)

	e, err := NewLocalModelEmbedder(LocalModelConfig{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.EmbedQuery(context.Background(), "q")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, m.calls, 16)
}

func TestModelDimension(t *testing.T) {
	dim, ok := ModelDimension("BAAI/bge-base-en-v1.5")
	assert.True(t, ok)
	assert.Equal(t, 768, dim)

	_, ok = ModelDimension("unknown")
	assert.False(t, ok)
	assert.Contains(t, supportedModelList(), "sentence-transformers/all-MiniLM-L6-v2")
}
