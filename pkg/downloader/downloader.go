// Package downloader fetches exchange models from a model hub into a model
// directory that siphon can load.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zerfoo/siphon/pkg/classifier"
	"github.com/zerfoo/siphon/pkg/manifest"
)

// Default hub endpoints. HUGGINGFACE_API_URL and HUGGINGFACE_CDN_URL
// override them.
const (
	DefaultAPIURL = "https://huggingface.co/api/models/"
	DefaultCDNURL = "https://huggingface.co/"
)

// ModelFileName is the name a downloaded exchange model is stored under, so
// that the directory classifier recognizes it.
const ModelFileName = "model.onnx"

// ErrNoModel is returned when a hub entry lists no exchange model.
var ErrNoModel = errors.New("no exchange model in repository")

// ModelSource downloads a model and its companion files.
type ModelSource interface {
	DownloadModel(ctx context.Context, modelID, destination string) (*DownloadResult, error)
}

// DownloadResult lists the files written to the destination.
type DownloadResult struct {
	ModelPath string
	// ManifestPath is empty when the repository has no placeholder manifest.
	ManifestPath string
}

// Downloader runs downloads through a ModelSource.
type Downloader struct {
	source ModelSource
}

// NewDownloader returns a Downloader backed by source.
func NewDownloader(source ModelSource) *Downloader {
	return &Downloader{source: source}
}

// Download fetches modelID into destination and checks that the directory
// now classifies as an exchange model.
func (d *Downloader) Download(ctx context.Context, modelID, destination string) (*DownloadResult, error) {
	res, err := d.source.DownloadModel(ctx, modelID, destination)
	if err != nil {
		return nil, err
	}
	if role, ok := classifier.Match(res.ModelPath); !ok || role != classifier.Exchange {
		return nil, fmt.Errorf("downloaded file %s is not recognized as an exchange model", res.ModelPath)
	}
	return res, nil
}

// HuggingFaceSource implements ModelSource for the HuggingFace Hub.
type HuggingFaceSource struct {
	client *http.Client
	apiURL string
	cdnURL string
	logger *slog.Logger
}

type Option func(*HuggingFaceSource)

func WithHTTPClient(c *http.Client) Option {
	return func(h *HuggingFaceSource) { h.client = c }
}

// WithURLs overrides the API and CDN base URLs.
func WithURLs(api, cdn string) Option {
	return func(h *HuggingFaceSource) {
		h.apiURL = api
		h.cdnURL = cdn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *HuggingFaceSource) { h.logger = l }
}

// NewHuggingFaceSource returns a source using the default endpoints unless
// overridden by environment or options.
func NewHuggingFaceSource(opts ...Option) *HuggingFaceSource {
	h := &HuggingFaceSource{
		client: &http.Client{},
		apiURL: DefaultAPIURL,
		cdnURL: DefaultCDNURL,
		logger: slog.Default(),
	}
	if v := os.Getenv("HUGGINGFACE_API_URL"); v != "" {
		h.apiURL = v
	}
	if v := os.Getenv("HUGGINGFACE_CDN_URL"); v != "" {
		h.cdnURL = v
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ModelInfo is the part of the hub API response siphon reads.
type ModelInfo struct {
	ModelID  string `json:"modelId"`
	Siblings []struct {
		RPath string `json:"rfilename"`
	} `json:"siblings"`
}

// DownloadModel fetches the first .onnx file of modelID (a file named
// model.onnx wins) and a value_info.json manifest when the repository has
// one.
func (h *HuggingFaceSource) DownloadModel(ctx context.Context, modelID, destination string) (*DownloadResult, error) {
	info, err := h.modelInfo(ctx, modelID)
	if err != nil {
		return nil, err
	}

	var model, manifestFile string
	for _, s := range info.Siblings {
		base := strings.ToLower(path.Base(s.RPath))
		switch {
		case strings.HasSuffix(base, ".onnx") && (model == "" || base == ModelFileName):
			model = s.RPath
		case base == manifest.FileName && manifestFile == "":
			manifestFile = s.RPath
		}
	}
	if model == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, modelID)
	}

	res := &DownloadResult{ModelPath: filepath.Join(destination, ModelFileName)}
	if err := h.downloadFile(ctx, h.fileURL(modelID, model), res.ModelPath); err != nil {
		return nil, fmt.Errorf("failed to download exchange model %s: %w", model, err)
	}
	if manifestFile != "" {
		res.ManifestPath = filepath.Join(destination, manifest.FileName)
		if err := h.downloadFile(ctx, h.fileURL(modelID, manifestFile), res.ManifestPath); err != nil {
			return nil, fmt.Errorf("failed to download manifest %s: %w", manifestFile, err)
		}
	}
	h.logger.Info("downloaded model", "model", modelID, "path", res.ModelPath, "manifest", res.ManifestPath)
	return res, nil
}

func (h *HuggingFaceSource) fileURL(modelID, rpath string) string {
	return strings.TrimSuffix(h.cdnURL, "/") + "/" + modelID + "/resolve/main/" + strings.TrimPrefix(rpath, "/")
}

func (h *HuggingFaceSource) modelInfo(ctx context.Context, modelID string) (info *ModelInfo, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.apiURL+modelID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model info: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hub API returned status %s for %s", resp.Status, modelID)
	}
	info = &ModelInfo{}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, fmt.Errorf("failed to decode hub API response: %w", err)
	}
	return info, nil
}

// downloadFile writes url to filePath, creating its directory.
func (h *HuggingFaceSource) downloadFile(ctx context.Context, url, filePath string) (err error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body for %s: %w", url, cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status code %d", url, resp.StatusCode)
	}

	out, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file %s: %w", filePath, err)
	}
	return nil
}
