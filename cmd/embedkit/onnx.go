package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
)

type onnxOptions struct {
	force   bool
	version string
	dir     string
	url     string
}

func newONNXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onnx",
		Short: "Manage the ONNX runtime used by the fastembed provider",
	}

	opts := &onnxOptions{}
	install := &cobra.Command{
		Use:   "install",
		Short: "Download the ONNX runtime library",
		Long: `Download the ONNX runtime shared library required for local embeddings.

The library is installed to ~/.config/embedkit/lib/ unless --dir is given.
If the ONNX_PATH environment variable is set, that path takes precedence and
nothing is downloaded unless --force is given.

Examples:
  # Install the default runtime version
  embedkit onnx install

  # Force re-download of a specific version
  embedkit onnx install --force --version 1.22.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runONNXInstall(cmd, opts)
		},
	}
	install.Flags().BoolVarP(&opts.force, "force", "f", false, "re-download even if the runtime exists")
	install.Flags().StringVar(&opts.version, "version", embeddings.DefaultONNXRuntimeVersion, "runtime version")
	install.Flags().StringVar(&opts.dir, "dir", "", "install directory (default ~/.config/embedkit/lib)")
	install.Flags().StringVar(&opts.url, "url", "", "release URL template receiving version, platform, version")

	var pathDir string
	path := &cobra.Command{
		Use:   "path",
		Short: "Print the ONNX runtime library in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pathDir == "" {
				pathDir = embeddings.DefaultONNXInstallDir()
			}
			p := embeddings.ONNXLibraryPath(pathDir)
			if p == "" {
				return fmt.Errorf("ONNX runtime not installed; run \"embedkit onnx install\"")
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	path.Flags().StringVar(&pathDir, "dir", "", "install directory (default ~/.config/embedkit/lib)")

	cmd.AddCommand(install, path)
	return cmd
}

func runONNXInstall(cmd *cobra.Command, opts *onnxOptions) error {
	ctx := cmd.Context()
	a := appFrom(ctx)

	installer := &embeddings.ONNXInstaller{
		Version:  opts.version,
		Dir:      opts.dir,
		BaseURL:  opts.url,
		Progress: cmd.ErrOrStderr(),
		Logger:   a.logger,
	}

	if !opts.force {
		dir := opts.dir
		if dir == "" {
			dir = embeddings.DefaultONNXInstallDir()
		}
		if p := embeddings.ONNXLibraryPath(dir); p != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", p)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Printf("Downloading ONNX runtime v%s...\n", installer.Version)
	if err := installer.Install(ctx); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	cmd.Printf("Installed ONNX runtime to: %s\n", installer.Dir)
	return nil
}
