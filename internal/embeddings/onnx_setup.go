package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/schollz/progressbar/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedkit/internal/logging"
)

// DefaultONNXRuntimeVersion is the ONNX runtime release matching onnxruntime_go.
// Update this when bumping fastembed-go.
const DefaultONNXRuntimeVersion = "1.23.0"

// ONNXPathEnv names the variable the local runtime reads the library path from.
const ONNXPathEnv = "ONNX_PATH"

const onnxReleaseURLTemplate = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// ErrUnsupportedPlatform indicates no ONNX runtime release exists for this OS/arch.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var platformArchives = map[string]map[string]string{
	"linux": {
		"amd64": "linux-x64",
		"arm64": "linux-aarch64",
	},
	"darwin": {
		"amd64": "osx-x86_64",
		"arm64": "osx-arm64",
	},
}

var libraryNames = map[string]string{
	"linux":  "libonnxruntime.so",
	"darwin": "libonnxruntime.dylib",
}

func platformArchive(goos, goarch string) (string, error) {
	if arch, ok := platformArchives[goos][goarch]; ok {
		return arch, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func libraryName(goos string) string {
	if name, ok := libraryNames[goos]; ok {
		return name
	}
	return "libonnxruntime.so"
}

func embedkitHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home
}

// DefaultONNXInstallDir is ~/.config/embedkit/lib.
func DefaultONNXInstallDir() string {
	return filepath.Join(embedkitHome(), ".config", "embedkit", "lib")
}

func defaultModelCacheDir() string {
	return filepath.Join(embedkitHome(), ".cache", "embedkit", "models")
}

// ONNXLibraryPath returns ONNX_PATH if set, else the managed install in
// dir if present, else "".
func ONNXLibraryPath(dir string) string {
	if p := os.Getenv(ONNXPathEnv); p != "" {
		return p
	}
	managed := filepath.Join(dir, libraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// ONNXInstaller downloads and unpacks the ONNX runtime shared library.
type ONNXInstaller struct {
	// Version defaults to DefaultONNXRuntimeVersion.
	Version string
	// Dir defaults to DefaultONNXInstallDir().
	Dir string
	// BaseURL overrides the release URL template; it receives version,
	// platform and version again.
	BaseURL string
	// Client defaults to an instrumented http.Client.
	Client *http.Client
	// MaxRetries bounds retried download attempts. Defaults to 3.
	MaxRetries uint64
	// Progress receives a byte progress bar when non-nil.
	Progress io.Writer
	// Logger defaults to a no-op logger.
	Logger *logging.Logger

	initialBackoff time.Duration
}

func (i *ONNXInstaller) defaults() {
	if i.Version == "" {
		i.Version = DefaultONNXRuntimeVersion
	}
	if i.Dir == "" {
		i.Dir = DefaultONNXInstallDir()
	}
	if i.BaseURL == "" {
		i.BaseURL = onnxReleaseURLTemplate
	}
	if i.Client == nil {
		i.Client = &http.Client{
			Timeout:   10 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if i.MaxRetries == 0 {
		i.MaxRetries = 3
	}
	if i.Logger == nil {
		i.Logger = logging.NewNop()
	}
	if i.initialBackoff == 0 {
		i.initialBackoff = time.Second
	}
}

// Ensure returns the library path, installing the runtime first if it is
// missing.
func (i *ONNXInstaller) Ensure(ctx context.Context) (string, error) {
	i.defaults()
	if p := ONNXLibraryPath(i.Dir); p != "" {
		return p, nil
	}

	i.Logger.Info(ctx, "onnx runtime not found, downloading",
		zap.String("version", i.Version),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
	)
	if err := i.Install(ctx); err != nil {
		return "", fmt.Errorf("installing ONNX runtime (set %s to use an existing library): %w", ONNXPathEnv, err)
	}

	p := ONNXLibraryPath(i.Dir)
	if p == "" {
		return "", errors.New("ONNX runtime installed but library not found")
	}
	return p, nil
}

// Install downloads the runtime for the current platform into Dir,
// retrying transient failures with exponential backoff.
func (i *ONNXInstaller) Install(ctx context.Context) error {
	i.defaults()

	platform, err := platformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(i.Dir, 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	url := fmt.Sprintf(i.BaseURL, i.Version, platform, i.Version)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = i.initialBackoff
	exp.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, i.MaxRetries), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := i.download(ctx, url, platform)
		if err != nil {
			i.Logger.Warn(ctx, "onnx runtime download failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	i.Logger.Info(ctx, "onnx runtime installed", zap.String("dir", i.Dir))
	return nil
}

func (i *ONNXInstaller) download(ctx context.Context, url, platform string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	resp, err := i.Client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download failed with status %d", resp.StatusCode)
		// Server errors and throttling are worth another attempt.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return backoff.Permanent(err)
	}

	var body io.Reader = resp.Body
	if i.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(i.Progress),
			progressbar.OptionSetDescription("onnxruntime "+i.Version),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		body = io.TeeReader(resp.Body, bar)
	}

	if err := extractLibraries(body, i.Dir, i.Version, platform, runtime.GOOS); err != nil {
		return backoff.Permanent(fmt.Errorf("extracting archive: %w", err))
	}
	return nil
}

// extractLibraries copies the files under the archive's lib/ directory into
// destDir, flattening paths. Symlinks are recreated as-is.
func extractLibraries(r io.Reader, destDir, version, platform, goos string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, version)
	lib := libraryName(goos)
	found := false

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasPrefix(name, prefix) || header.Typeflag == tar.TypeDir {
			continue
		}

		filename := filepath.Base(name)
		if filename == "." || filename == ".." || filename == "/" {
			continue
		}
		dest := filepath.Join(destDir, filename)
		isLib := filename == lib || strings.HasPrefix(filename, lib+".")

		switch header.Typeflag {
		case tar.TypeSymlink:
			if strings.Contains(header.Linkname, "/") {
				continue
			}
			_ = os.Remove(dest)
			if err := os.Symlink(header.Linkname, dest); err != nil {
				continue
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return fmt.Errorf("writing %s: %w", filename, err)
			}
		default:
			continue
		}
		if isLib {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("library %s not found in archive", lib)
	}
	return nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
