package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <text>",
		Short: "Embed a single query text",
		Long: `Embed one query and print its vector as JSON.

Multiple arguments are joined with spaces.

Examples:
  embedkit query "how do I rotate credentials"
  embedkit --provider fake query hello`,
		Args: cobra.MinimumNArgs(1),
		RunE: runQuery,
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := appFrom(ctx)

	p, err := a.provider(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	vector, err := p.EmbedQuery(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	return writeJSON(cmd.OutOrStdout(), embedOutput{
		Provider:   a.cfg.Embeddings.Provider,
		Dimension:  p.Dimension(),
		Count:      1,
		Embeddings: [][]float32{vector},
	})
}
