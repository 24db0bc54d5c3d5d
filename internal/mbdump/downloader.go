package mbdump

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the official full-export mirror.
const DefaultBaseURL = "https://ftp.musicbrainz.org/pub/musicbrainz/data/fullexport"

// defaultFiles are the archives a full import needs.
var defaultFiles = []string{
	"mbdump.tar.bz2",
	"mbdump-derived.tar.bz2",
	"mbdump-stats.tar.bz2",
}

// concurrent downloads against the dump mirror. The mirror is not the
// rate-capped API, but two streams keep us polite.
const downloadConcurrency = 2

// Config selects which dump release and archives to fetch.
type Config struct {
	BaseURL   string
	Release   string
	Files     []string
	DataDir   string
	UserAgent string
}

// Downloader fetches, verifies and extracts MusicBrainz database dumps
// into the local data directory.
type Downloader struct {
	cfg    Config
	client *http.Client
	fs     afero.Fs
	runner Runner
	logger hclog.Logger

	release string
}

// NewDownloader creates a dump downloader. Nil collaborators fall back
// to production defaults.
func NewDownloader(cfg Config, client *http.Client, fs afero.Fs, runner Runner, logger hclog.Logger) *Downloader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Files) == 0 {
		cfg.Files = defaultFiles
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join("data", "musicbrainz")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Downloader{
		cfg:     cfg,
		client:  client,
		fs:      fs,
		runner:  runner,
		logger:  logger,
		release: cfg.Release,
	}
}

// ResolveRelease returns the dump release to use, asking the mirror's
// LATEST file when the config does not pin one.
func (d *Downloader) ResolveRelease(ctx context.Context) (string, error) {
	if d.release != "" {
		return d.release, nil
	}

	latestURL := fmt.Sprintf("%s/LATEST", d.cfg.BaseURL)
	d.logger.Info("resolving latest dump release", "url", latestURL)

	payload, err := d.get(ctx, latestURL)
	if err != nil {
		return "", fmt.Errorf("fetching LATEST: %w", err)
	}

	release := strings.TrimSpace(string(payload))
	if release == "" {
		return "", fmt.Errorf("mirror returned an empty LATEST file")
	}

	d.release = release
	d.logger.Info("resolved dump release", "release", release)
	return release, nil
}

// DownloadAll fetches every configured archive, skipping files already
// on disk unless overwrite is set. Archives land under
// DataDir/<release>/ and are checksum-verified when verify is set.
func (d *Downloader) DownloadAll(ctx context.Context, verify, overwrite bool) ([]string, error) {
	release, err := d.ResolveRelease(ctx)
	if err != nil {
		return nil, err
	}

	releaseDir := filepath.Join(d.cfg.DataDir, release)
	if err := d.fs.MkdirAll(releaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", releaseDir, err)
	}

	paths := make([]string, len(d.cfg.Files))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(downloadConcurrency)
	for i, name := range d.cfg.Files {
		name := name // per-iteration copy; module builds with pre-1.22 loop semantics
		paths[i] = filepath.Join(releaseDir, name)
		group.Go(func() error {
			return d.downloadOne(ctx, release, name, verify, overwrite)
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (d *Downloader) downloadOne(ctx context.Context, release, name string, verify, overwrite bool) error {
	target := filepath.Join(d.cfg.DataDir, release, name)

	exists, err := afero.Exists(d.fs, target)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		d.logger.Info("archive already present, skipping download", "path", target)
		return nil
	}

	fileURL := fmt.Sprintf("%s/%s/%s", d.cfg.BaseURL, release, name)
	d.logger.Info("downloading archive", "url", fileURL)

	if err := d.downloadToFile(ctx, fileURL, target); err != nil {
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	d.logger.Info("saved archive", "path", target)

	if verify {
		if err := d.verifyChecksum(ctx, release, target); err != nil {
			return err
		}
	}
	return nil
}

// downloadToFile streams the response into a partial file and renames
// it into place once complete, so interrupted downloads never leave a
// truncated archive behind.
func (d *Downloader) downloadToFile(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	partial := target + ".partial"
	file, err := d.fs.Create(partial)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(file, resp.Body)
	if closeErr := file.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		d.fs.Remove(partial)
		return copyErr
	}

	return d.fs.Rename(partial, target)
}

func (d *Downloader) verifyChecksum(ctx context.Context, release, target string) error {
	name := filepath.Base(target)
	checksumURL := fmt.Sprintf("%s/%s/%s.md5", d.cfg.BaseURL, release, name)
	d.logger.Info("verifying checksum", "path", target)

	payload, err := d.get(ctx, checksumURL)
	if err != nil {
		return fmt.Errorf("fetching checksum for %s: %w", name, err)
	}

	fields := strings.Fields(string(payload))
	if len(fields) == 0 {
		return fmt.Errorf("checksum file for %s is empty", name)
	}
	expected := fields[0]

	file, err := d.fs.Open(target)
	if err != nil {
		return err
	}
	defer file.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("hashing %s: %w", target, err)
	}
	actual := fmt.Sprintf("%x", hasher.Sum(nil))

	if actual != expected {
		return fmt.Errorf("checksum mismatch for %s: %s != %s", target, actual, expected)
	}

	d.logger.Info("checksum verified", "path", target)
	return nil
}

func (d *Downloader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
