//go:build !cgo

package embeddings

import "fmt"

func loadFastEmbed(cfg LocalModelConfig) (localModel, int, error) {
	return nil, 0, fmt.Errorf("%w: fastembed requires cgo (model %q)", ErrBackendUnavailable, cfg.Model)
}
