//go:build cgo

package embeddings

import (
	"fmt"
	"os"

	fastembed "github.com/anush008/fastembed-go"
)

var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// resolveFastEmbedModel accepts either a friendly name or a fastembed model
// identifier such as fast-bge-small-en-v1.5.
func resolveFastEmbedModel(name string) (fastembed.EmbeddingModel, int, error) {
	if m, ok := fastembedModels[name]; ok {
		return m, knownModelDimensions[name], nil
	}
	for friendly, m := range fastembedModels {
		if string(m) == name {
			return m, knownModelDimensions[friendly], nil
		}
	}
	return "", 0, fmt.Errorf("unsupported model %q (supported: %s)", name, supportedModelList())
}

func loadFastEmbed(cfg LocalModelConfig) (localModel, int, error) {
	model, dim, err := resolveFastEmbedModel(cfg.Model)
	if err != nil {
		return nil, 0, err
	}

	// The runtime reads the library location from the environment.
	if os.Getenv(ONNXPathEnv) == "" {
		if p := ONNXLibraryPath(DefaultONNXInstallDir()); p != "" {
			if err := os.Setenv(ONNXPathEnv, p); err != nil {
				return nil, 0, fmt.Errorf("setting %s: %w", ONNXPathEnv, err)
			}
		}
	}

	showProgress := cfg.ShowProgress
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cfg.CacheDir,
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("initializing fastembed: %w", err)
	}
	return flag, dim, nil
}
