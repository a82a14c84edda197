package embeddings

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ContentHandler translates between texts and an endpoint's wire format.
//
// TransformInput and TransformOutput are each called exactly once per
// endpoint request.
type ContentHandler interface {
	// ContentType is the MIME type of the request body.
	ContentType() string
	// Accepts is the MIME type requested for the response body.
	Accepts() string
	// TransformInput encodes a window of normalized texts plus model
	// parameters into a request body.
	TransformInput(texts []string, modelKwargs map[string]any) ([]byte, error)
	// TransformOutput decodes a response body into one vector per text.
	TransformOutput(body []byte) ([][]float32, error)
}

// ContentHandlerFuncs adapts plain functions to ContentHandler.
type ContentHandlerFuncs struct {
	Type   string
	Accept string
	Input  func(texts []string, modelKwargs map[string]any) ([]byte, error)
	Output func(body []byte) ([][]float32, error)
}

func (f ContentHandlerFuncs) ContentType() string { return f.Type }
func (f ContentHandlerFuncs) Accepts() string     { return f.Accept }

func (f ContentHandlerFuncs) TransformInput(texts []string, modelKwargs map[string]any) ([]byte, error) {
	return f.Input(texts, modelKwargs)
}

func (f ContentHandlerFuncs) TransformOutput(body []byte) ([][]float32, error) {
	return f.Output(body)
}

// JSONContentHandlerConfig configures a JSONContentHandler.
type JSONContentHandlerConfig struct {
	// ContentType defaults to application/json.
	ContentType string
	// Accepts defaults to application/json.
	Accepts string
	// InputKey is the request field holding the texts. Defaults to "text_inputs".
	InputKey string
	// OutputPath is a gjson path to the vectors in the response; "@this"
	// selects the whole document. Defaults to "embedding".
	OutputPath string
}

// JSONContentHandler encodes {InputKey: texts, ...modelKwargs} and decodes
// the vectors found at OutputPath, which may be a single vector or a list.
//
// This matches the JumpStart text-embedding containers, e.g.
//
//	request:  {"text_inputs": ["a", "b"], "normalize": true}
//	response: {"embedding": [[0.1, ...], [0.2, ...]]}
type JSONContentHandler struct {
	contentType string
	accepts     string
	inputKey    string
	outputPath  string
}

// NewJSONContentHandler creates a JSON content handler with defaults applied.
func NewJSONContentHandler(cfg JSONContentHandlerConfig) *JSONContentHandler {
	h := &JSONContentHandler{
		contentType: cfg.ContentType,
		accepts:     cfg.Accepts,
		inputKey:    cfg.InputKey,
		outputPath:  cfg.OutputPath,
	}
	if h.contentType == "" {
		h.contentType = "application/json"
	}
	if h.accepts == "" {
		h.accepts = "application/json"
	}
	if h.inputKey == "" {
		h.inputKey = "text_inputs"
	}
	if h.outputPath == "" {
		h.outputPath = "embedding"
	}
	return h
}

func (h *JSONContentHandler) ContentType() string { return h.contentType }
func (h *JSONContentHandler) Accepts() string     { return h.accepts }

// TransformInput encodes texts under the input key. Model kwargs are merged
// at the top level; a kwarg named like the input key is overwritten.
func (h *JSONContentHandler) TransformInput(texts []string, modelKwargs map[string]any) ([]byte, error) {
	payload := make(map[string]any, len(modelKwargs)+1)
	for k, v := range modelKwargs {
		payload[k] = v
	}
	payload[h.inputKey] = texts

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return body, nil
}

// TransformOutput extracts vectors at the output path.
func (h *JSONContentHandler) TransformOutput(body []byte) ([][]float32, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}

	res := gjson.GetBytes(body, h.outputPath)
	if !res.Exists() {
		return nil, fmt.Errorf("response has no value at %q", h.outputPath)
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("value at %q is %s, want array", h.outputPath, res.Type)
	}

	items := res.Array()
	if len(items) == 0 {
		return [][]float32{}, nil
	}

	// A flat list of numbers is a single vector.
	if items[0].Type == gjson.Number {
		vec, err := toVector(res)
		if err != nil {
			return nil, err
		}
		return [][]float32{vec}, nil
	}

	vectors := make([][]float32, len(items))
	for i, item := range items {
		if !item.IsArray() {
			return nil, fmt.Errorf("vector %d is %s, want array", i, item.Type)
		}
		vec, err := toVector(item)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func toVector(res gjson.Result) ([]float32, error) {
	items := res.Array()
	vec := make([]float32, len(items))
	for i, v := range items {
		if v.Type != gjson.Number {
			return nil, fmt.Errorf("element %d is %s, want number", i, v.Type)
		}
		vec[i] = float32(v.Float())
	}
	return vec, nil
}
