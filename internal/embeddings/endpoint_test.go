package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/embedkit/internal/logging"
)

// fakeInvoker records requests and answers each with one vector per text,
// where vector j of request i is [i, j].
type fakeInvoker struct {
	mu     sync.Mutex
	inputs []*sagemakerruntime.InvokeEndpointInput
	texts  [][]string
	failOn int // 1-based request number to fail; 0 never fails
	err    error
	body   func(call int, texts []string) []byte
}

func (f *fakeInvoker) InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req map[string]any
	if err := json.Unmarshal(in.Body, &req); err != nil {
		return nil, err
	}
	var texts []string
	for _, v := range req["text_inputs"].([]any) {
		texts = append(texts, v.(string))
	}
	f.inputs = append(f.inputs, in)
	f.texts = append(f.texts, texts)
	call := len(f.inputs)

	if call == f.failOn {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("ModelError: received server error (500)")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.body != nil {
		return &sagemakerruntime.InvokeEndpointOutput{Body: f.body(call, texts)}, nil
	}
	vecs := make([][]float32, len(texts))
	for j := range texts {
		vecs[j] = []float32{float32(call), float32(j)}
	}
	body, _ := json.Marshal(map[string]any{"embedding": vecs})
	return &sagemakerruntime.InvokeEndpointOutput{Body: body}, nil
}

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func newTestEndpoint(t *testing.T, inv Invoker, mutate func(*EndpointConfig), opts ...EndpointOption) *EndpointEmbedder {
	t.Helper()
	cfg := EndpointConfig{
		EndpointName:   "my-endpoint-name",
		Region:         "us-west-2",
		ContentHandler: NewJSONContentHandler(JSONContentHandlerConfig{}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEndpointEmbedder(context.Background(), cfg, append([]EndpointOption{WithInvoker(inv)}, opts...)...)
	require.NoError(t, err)
	return e
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text %d", i)
	}
	return out
}

func TestEndpointEmbedder_ChunksIntoWindows(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	vecs, err := e.EmbedDocumentsChunked(context.Background(), []string{"a", "b", "c", "d", "e"}, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, inv.calls())
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, inv.texts)
	assert.Equal(t, [][]float32{{1, 0}, {1, 1}, {2, 0}, {2, 1}, {3, 0}}, vecs)
}

func TestEndpointEmbedder_DefaultChunkSize(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	vecs, err := e.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls())
	assert.Len(t, vecs, 3)

	inv = &fakeInvoker{}
	e = newTestEndpoint(t, inv, nil)
	vecs, err = e.EmbedDocuments(context.Background(), texts(130))
	require.NoError(t, err)
	assert.Equal(t, 3, inv.calls())
	assert.Len(t, inv.texts[0], DefaultChunkSize)
	assert.Len(t, inv.texts[2], 2)
	assert.Len(t, vecs, 130)
}

func TestEndpointEmbedder_ConfiguredChunkSize(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, func(c *EndpointConfig) { c.ChunkSize = 4 })

	vecs, err := e.EmbedDocuments(context.Background(), texts(10))
	require.NoError(t, err)
	assert.Equal(t, 3, inv.calls())
	assert.Len(t, vecs, 10)
}

func TestEndpointEmbedder_OneVectorPerTextInOrder(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	for _, chunk := range []int{1, 2, 3, 7, 64} {
		inv.texts, inv.inputs = nil, nil
		vecs, err := e.EmbedDocumentsChunked(context.Background(), texts(17), chunk)
		require.NoError(t, err)
		require.Len(t, vecs, 17)

		// Vector k came from window k/chunk at position k%chunk.
		for k, v := range vecs {
			assert.Equal(t, []float32{float32(k/chunk + 1), float32(k % chunk)}, v, "chunk %d index %d", chunk, k)
		}
	}
}

func TestEndpointEmbedder_NormalizesNewlines(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	input := []string{"line one\nline two", "a\n\nb"}
	_, err := e.EmbedDocuments(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one line two", "a  b"}, inv.texts[0])
	assert.Equal(t, "line one\nline two", input[0], "caller slice must not be modified")

	_, err = e.EmbedQuery(context.Background(), "what is\nthis")
	require.NoError(t, err)
	assert.Equal(t, []string{"what is this"}, inv.texts[1])
}

func TestEndpointEmbedder_EmptyInput(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	vecs, err := e.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, vecs)
	assert.Empty(t, vecs)
	assert.Zero(t, inv.calls())
}

func TestEndpointEmbedder_InvalidChunkSize(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	for _, size := range []int{0, -3} {
		vecs, err := e.EmbedDocumentsChunked(context.Background(), texts(3), size)
		assert.ErrorIs(t, err, ErrInvalidChunkSize)
		assert.Nil(t, vecs)
	}
	assert.Zero(t, inv.calls())
}

func TestEndpointEmbedder_FailureAbortsWithoutPartialResults(t *testing.T) {
	inv := &fakeInvoker{failOn: 2}
	e := newTestEndpoint(t, inv, nil)

	vecs, err := e.EmbedDocumentsChunked(context.Background(), texts(5), 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "window 2 of 3")
	assert.Nil(t, vecs)
	assert.Equal(t, 2, inv.calls(), "third window must not be sent")
}

func TestEndpointEmbedder_ContextCanceled(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EmbedQuery(ctx, "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndpointEmbedder_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body func(call int, texts []string) []byte
	}{
		{"not json", func(int, []string) []byte { return []byte("<html>") }},
		{"missing field", func(int, []string) []byte { return []byte(`{"vectors": [[1]]}`) }},
		{"too few vectors", func(int, []string) []byte { return []byte(`{"embedding": [[1, 2]]}`) }},
		{"non numeric", func(int, []string) []byte { return []byte(`{"embedding": [["x"], ["y"]]}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{body: tt.body}
			e := newTestEndpoint(t, inv, nil)

			vecs, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
			assert.ErrorIs(t, err, ErrEmbeddingFailed)
			assert.Nil(t, vecs)
		})
	}
}

func TestEndpointEmbedder_Query(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil)

	vec, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, 1, inv.calls())
}

func TestEndpointEmbedder_RequestFields(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, func(c *EndpointConfig) {
		c.ModelKwargs = map[string]any{"normalize": true}
		c.Options = EndpointOptions{
			CustomAttributes: "accept_eula=true",
			TargetVariant:    "blue",
			InferenceID:      "req-1",
		}
	})

	_, err := e.EmbedQuery(context.Background(), "hi")
	require.NoError(t, err)

	in := inv.inputs[0]
	assert.Equal(t, "my-endpoint-name", aws.ToString(in.EndpointName))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, "application/json", aws.ToString(in.Accept))
	assert.Equal(t, "accept_eula=true", aws.ToString(in.CustomAttributes))
	assert.Equal(t, "blue", aws.ToString(in.TargetVariant))
	assert.Equal(t, "req-1", aws.ToString(in.InferenceId))
	assert.Nil(t, in.TargetModel)

	var body map[string]any
	require.NoError(t, json.Unmarshal(in.Body, &body))
	assert.Equal(t, true, body["normalize"])
}

func TestEndpointEmbedder_LogsWindowFailure(t *testing.T) {
	tl := logging.NewTestLogger()
	inv := &fakeInvoker{failOn: 1}
	e := newTestEndpoint(t, inv, nil, WithLogger(tl.Logger))

	_, err := e.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	tl.AssertLogged(t, zapcore.WarnLevel, "endpoint window failed")
}

func TestNewEndpointEmbedder_InvalidConfig(t *testing.T) {
	handler := NewJSONContentHandler(JSONContentHandlerConfig{})
	tests := []struct {
		name string
		cfg  EndpointConfig
	}{
		{"missing endpoint", EndpointConfig{Region: "us-west-2", ContentHandler: handler}},
		{"missing handler", EndpointConfig{EndpointName: "e", Region: "us-west-2"}},
		{"negative chunk size", EndpointConfig{EndpointName: "e", Region: "us-west-2", ContentHandler: handler, ChunkSize: -1}},
		{"negative dimension", EndpointConfig{EndpointName: "e", Region: "us-west-2", ContentHandler: handler, Dimension: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEndpointEmbedder(context.Background(), tt.cfg, WithInvoker(&fakeInvoker{}))
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, e)
		})
	}
}

func TestNewEndpointEmbedder_RequiresRegionWithoutInvoker(t *testing.T) {
	e, err := NewEndpointEmbedder(context.Background(), EndpointConfig{
		EndpointName:   "e",
		ContentHandler: NewJSONContentHandler(JSONContentHandlerConfig{}),
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, e)
}

func TestNewEndpointEmbedder_UnknownProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte("[default]\nregion = us-west-2\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials"), []byte(""), 0600))
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_PROFILE", "")

	e, err := NewEndpointEmbedder(context.Background(), EndpointConfig{
		EndpointName:   "e",
		Region:         "us-west-2",
		Profile:        "does-not-exist",
		ContentHandler: NewJSONContentHandler(JSONContentHandlerConfig{}),
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, e)
}

func TestNewEndpointEmbedder_StaticCredentials(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	e, err := NewEndpointEmbedder(context.Background(), EndpointConfig{
		EndpointName:   "e",
		Region:         "us-west-2",
		ContentHandler: NewJSONContentHandler(JSONContentHandlerConfig{}),
		Dimension:      1024,
	})
	require.NoError(t, err)
	assert.Equal(t, 1024, e.Dimension())
	assert.NoError(t, e.Close())
}

func TestEndpointEmbedder_WithInferenceID(t *testing.T) {
	inv := &fakeInvoker{}
	e := newTestEndpoint(t, inv, nil, WithInferenceID("7f1c"))
	_, err := e.EmbedQuery(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "7f1c", aws.ToString(inv.inputs[0].InferenceId))

	// An explicitly configured ID wins.
	inv = &fakeInvoker{}
	e = newTestEndpoint(t, inv, func(c *EndpointConfig) { c.Options.InferenceID = "fixed" }, WithInferenceID("7f1c"))
	_, err = e.EmbedQuery(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "fixed", aws.ToString(inv.inputs[0].InferenceId))
}
