// Package modelcache implements the Model Cache (spec C2): resolving a
// model ID to a local directory, downloading and verifying a manifest of
// weight files, resuming interrupted downloads, and listing/removing
// cached models. Grounded on the teacher's env-first root resolution
// (internal/config/loader.go) and its otel-instrumented HTTP client
// (internal/observability/httpclient.go); the resumable-download loop
// itself has no teacher analog (manifold calls out to hosted completion
// APIs, it never downloads model weights) so it is hand-built against
// the download contract in spec §4.2, using the same "exclusively
// append at the byte offset already on disk" idiom common to resumable
// HTTP downloaders.
package modelcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ailoy/internal/aerr"
	"ailoy/internal/observability"
)

// Manifest describes one (model_id, quantization, target) download target.
type Manifest struct {
	Files []ManifestFile `json:"files"`
	Lib   string         `json:"lib"`
}

// ManifestFile is one weight/asset file entry.
type ManifestFile struct {
	RelPath string `json:"relpath"`
	SHA1    string `json:"sha1"`
}

// LocalModel describes a cached model directory discovered by ListLocalModels.
type LocalModel struct {
	ModelID     string
	Quantization string
	Device      string
	Path        string
	TotalBytes  int64
}

// DownloadOptions controls one download_model invocation.
type DownloadOptions struct {
	ModelID            string
	Quantization       string
	TargetDevice       string
	Arch               string
	OS                 string
	SkipIntegrityCheck bool
}

// DownloadResult is the outcome of a successful download_model call.
type DownloadResult struct {
	LocalDir string
	LibPath  string
}

// LedgerEntry is one recorded download, handed to a CacheLedger after
// DownloadModel completes successfully.
type LedgerEntry struct {
	ModelID      string
	Quantization string
	Device       string
	DownloadedAt time.Time
	TotalBytes   int64
}

// CacheLedger records completed downloads for downstream audit. A Cache
// built by New uses noopLedger, so wiring a ledger is always optional —
// spec.md §1's Non-goals excludes persistent *conversation* storage, not
// cache bookkeeping, and the teacher's own Postgres persistence is
// analogous, not required (see DESIGN.md).
type CacheLedger interface {
	Record(ctx context.Context, entry LedgerEntry) error
}

type noopLedger struct{}

func (noopLedger) Record(context.Context, LedgerEntry) error { return nil }

// Cache resolves models into a root directory and performs verified,
// resumable downloads from a configured model base URL.
type Cache struct {
	Root      string
	BaseURL   string
	client    *http.Client
	interrupt <-chan struct{}
	ledger    CacheLedger
}

// SetLedger installs a CacheLedger that DownloadModel records into after
// each successful download. Passing nil restores the no-op default.
func (c *Cache) SetLedger(l CacheLedger) {
	if l == nil {
		l = noopLedger{}
	}
	c.ledger = l
}

// New creates a Cache rooted at root, fetching from baseURL. interrupt, if
// non-nil, is consulted between chunks to support graceful SIGINT handling;
// callers install it as a scoped signal handler only for the duration of a
// download, per spec §5 ("SIGINT is installed as a scoped handler only
// during a resumable download and restored on exit").
func New(root, baseURL string, interrupt <-chan struct{}) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, aerr.Wrap(aerr.IO, err, "create cache root %s", root)
	}
	return &Cache{
		Root:      root,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		client:    observability.NewHTTPClient(nil),
		interrupt: interrupt,
		ledger:    noopLedger{},
	}, nil
}

func escapeModelID(id string) string {
	return strings.ReplaceAll(id, "/", "--")
}

func manifestName(arch, os_, device string) string {
	return fmt.Sprintf("manifest-%s-%s-%s.json", arch, os_, device)
}

func (c *Cache) targetDir(opts DownloadOptions) string {
	return filepath.Join(c.Root, "tvm-models", escapeModelID(opts.ModelID), opts.Quantization)
}

// DownloadModel implements spec §4.2's download_model algorithm.
func (c *Cache) DownloadModel(ctx context.Context, opts DownloadOptions) (DownloadResult, error) {
	dir := c.targetDir(opts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return DownloadResult{}, aerr.Wrap(aerr.IO, err, "create model dir %s", dir)
	}

	mName := manifestName(opts.Arch, opts.OS, opts.TargetDevice)
	mPath := filepath.Join(dir, mName)

	manifest, err := c.loadOrFetchManifest(ctx, opts, dir, mName, mPath)
	if err != nil {
		return DownloadResult{}, err
	}

	for _, f := range manifest.Files {
		if err := c.ensureFile(ctx, opts, dir, f); err != nil {
			return DownloadResult{}, err
		}
	}

	if err := c.ledger.Record(ctx, LedgerEntry{
		ModelID:      opts.ModelID,
		Quantization: opts.Quantization,
		Device:       opts.TargetDevice,
		DownloadedAt: time.Now(),
		TotalBytes:   dirSize(dir),
	}); err != nil {
		log.Warn().Err(err).Str("model_id", opts.ModelID).Msg("failed to record download in cache ledger")
	}

	return DownloadResult{LocalDir: dir, LibPath: filepath.Join(dir, manifest.Lib)}, nil
}

func (c *Cache) loadOrFetchManifest(ctx context.Context, opts DownloadOptions, dir, mName, mPath string) (Manifest, error) {
	if data, err := os.ReadFile(mPath); err == nil {
		var m Manifest
		if err := json.Unmarshal(data, &m); err == nil {
			return m, nil
		}
		// Parse failure: remove the bad manifest and fall through to refetch.
		_ = os.Remove(mPath)
	}

	remotePath := strings.TrimPrefix(dir[len(c.Root):], string(filepath.Separator))
	remotePath = filepath.ToSlash(remotePath)
	url := fmt.Sprintf("%s/%s/%s", c.BaseURL, remotePath, mName)

	data, err := c.fetchAll(ctx, url)
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, aerr.Wrap(aerr.Validation, err, "parse manifest %s", url)
	}
	if err := os.WriteFile(mPath, data, 0o644); err != nil {
		return Manifest{}, aerr.Wrap(aerr.IO, err, "write manifest %s", mPath)
	}
	return m, nil
}

func (c *Cache) fetchAll(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, aerr.Wrap(aerr.IO, err, "build request for %s", url)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, aerr.Wrap(aerr.IO, err, "fetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, aerr.New(aerr.IO, "GET %s: HTTP %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ensureFile downloads one manifest file if missing or checksum-invalid,
// resuming from the byte offset already on disk.
func (c *Cache) ensureFile(ctx context.Context, opts DownloadOptions, dir string, f ManifestFile) error {
	localPath := filepath.Join(dir, f.RelPath)

	if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
		if opts.SkipIntegrityCheck {
			return nil
		}
		if match, err := sha1Matches(localPath, f.SHA1); err == nil && match {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return aerr.Wrap(aerr.IO, err, "create dir for %s", localPath)
	}

	remotePath := strings.TrimPrefix(dir[len(c.Root):], string(filepath.Separator))
	remotePath = filepath.ToSlash(remotePath)
	url := fmt.Sprintf("%s/%s/%s", c.BaseURL, remotePath, filepath.ToSlash(f.RelPath))

	if err := c.downloadResumable(ctx, url, localPath); err != nil {
		return err
	}

	match, err := sha1Matches(localPath, f.SHA1)
	if err != nil {
		return aerr.Wrap(aerr.IO, err, "verify %s", localPath)
	}
	if !match {
		return aerr.New(aerr.Integrity, "sha1 mismatch for %s", f.RelPath)
	}
	return nil
}

// downloadResumable appends to any partial file already on disk at the byte
// offset already present, honoring cancellation via ctx and the interrupt
// channel between chunk reads.
func (c *Cache) downloadResumable(ctx context.Context, url, localPath string) error {
	partial := localPath + ".partial"

	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return aerr.Wrap(aerr.IO, err, "build request for %s", url)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return aerr.Wrap(aerr.IO, err, "download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		// The server considers the file already complete at this offset.
		return os.Rename(partial, localPath)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return aerr.New(aerr.IO, "GET %s: HTTP %d", url, resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		offset = 0
	}
	out, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return aerr.Wrap(aerr.IO, err, "open partial %s", partial)
	}
	defer out.Close()

	buf := make([]byte, 256*1024)
	for {
		select {
		case <-ctx.Done():
			return aerr.Wrap(aerr.Cancelled, ctx.Err(), "download interrupted: %s", url)
		case <-interruptOrNever(c.interrupt):
			return aerr.New(aerr.Cancelled, "interrupted: %s", url)
		default:
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return aerr.Wrap(aerr.IO, werr, "write %s", partial)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return aerr.Wrap(aerr.IO, rerr, "read body for %s", url)
		}
	}

	if err := out.Close(); err != nil {
		return aerr.Wrap(aerr.IO, err, "close %s", partial)
	}
	return os.Rename(partial, localPath)
}

func interruptOrNever(ch <-chan struct{}) <-chan struct{} {
	if ch != nil {
		return ch
	}
	return nil
}

func sha1Matches(path, want string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	got := hex.EncodeToString(h.Sum(nil))
	return strings.EqualFold(got, want), nil
}

// ListLocalModels walks root/tvm-models/*/*/manifest-*.json.
func (c *Cache) ListLocalModels() ([]LocalModel, error) {
	base := filepath.Join(c.Root, "tvm-models")
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, aerr.Wrap(aerr.IO, err, "list %s", base)
	}

	var out []LocalModel
	for _, modelEnt := range entries {
		if !modelEnt.IsDir() {
			continue
		}
		modelDir := filepath.Join(base, modelEnt.Name())
		quantEntries, err := os.ReadDir(modelDir)
		if err != nil {
			continue
		}
		for _, qEnt := range quantEntries {
			if !qEnt.IsDir() {
				continue
			}
			qDir := filepath.Join(modelDir, qEnt.Name())
			files, err := os.ReadDir(qDir)
			if err != nil {
				continue
			}
			for _, fEnt := range files {
				if fEnt.IsDir() || !strings.HasPrefix(fEnt.Name(), "manifest-") || !strings.HasSuffix(fEnt.Name(), ".json") {
					continue
				}
				device := deviceFromManifestName(fEnt.Name())
				total := dirSize(qDir)
				out = append(out, LocalModel{
					ModelID:      strings.ReplaceAll(modelEnt.Name(), "--", "/"),
					Quantization: qEnt.Name(),
					Device:       device,
					Path:         qDir,
					TotalBytes:   total,
				})
			}
		}
	}
	return out, nil
}

func deviceFromManifestName(name string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "manifest-"), ".json")
	parts := strings.Split(trimmed, "-")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// RemoveModel deletes the directory tree for (modelID, quantization). If ask
// is non-nil, it is invoked for confirmation before deleting; declining
// returns skipped=true without error.
func (c *Cache) RemoveModel(modelID, quantization string, ask func() bool) (skipped bool, err error) {
	if ask != nil && !ask() {
		return true, nil
	}
	dir := filepath.Join(c.Root, "tvm-models", escapeModelID(modelID), quantization)
	if err := os.RemoveAll(dir); err != nil {
		return false, aerr.Wrap(aerr.IO, err, "remove %s", dir)
	}
	return false, nil
}
