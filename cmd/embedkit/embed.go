package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxLineSize bounds a single input document.
const maxLineSize = 1 << 20

// embedOutput is the JSON written by the embed and query commands.
type embedOutput struct {
	Provider   string      `json:"provider"`
	Dimension  int         `json:"dimension"`
	Count      int         `json:"count"`
	Embeddings [][]float32 `json:"embeddings"`
}

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed [file|-]",
		Short: "Embed documents, one per line",
		Long: `Embed each non-empty line of a file or stdin as a separate document.

Vectors are printed as JSON in input order. With the sagemaker provider the
documents are sent in windows of --chunk-size texts.

Examples:
  # Embed a file
  embedkit embed docs.txt

  # Embed from stdin with the endpoint, 16 texts per request
  cat docs.txt | embedkit --provider sagemaker --chunk-size 16 embed -`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEmbed,
	}
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := appFrom(ctx)

	texts, err := readDocuments(cmd, args)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return fmt.Errorf("no documents to embed")
	}

	p, err := a.provider(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	vectors, err := p.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	a.logger.Debug(ctx, "documents embedded", zap.Int("count", len(vectors)))

	return writeJSON(cmd.OutOrStdout(), embedOutput{
		Provider:   a.cfg.Embeddings.Provider,
		Dimension:  p.Dimension(),
		Count:      len(vectors),
		Embeddings: vectors,
	})
}

// readDocuments reads non-empty lines from the named file, or stdin for
// no argument or "-".
func readDocuments(cmd *cobra.Command, args []string) ([]string, error) {
	var r io.Reader
	if len(args) == 0 || args[0] == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		r = f
	}

	var texts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		texts = append(texts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return texts, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
