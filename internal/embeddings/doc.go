// Package embeddings turns text into vectors through interchangeable providers.
//
// Three implementations share the Embedder contract:
//   - EndpointEmbedder calls a SageMaker inference endpoint, splitting large
//     document sets into bounded windows sent one at a time.
//   - LocalModelEmbedder loads a FastEmbed ONNX model once and runs it in
//     process. It needs cgo; builds without cgo report ErrBackendUnavailable.
//   - FakeEmbedder returns deterministic vectors for tests.
//
// Every implementation replaces "\n" with " " before encoding and returns
// vectors in input order. NewProvider selects an implementation from config.
package embeddings
