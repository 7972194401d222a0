package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// maxPayloadBytes bounds the directory download; the published payload is
// well under 1 MiB.
const maxPayloadBytes = 32 << 20

// Fetcher downloads the published server directory and keeps a verbatim
// copy on disk so the daemon can start without network access.
type Fetcher struct {
	url       string
	cachePath string
	client    *http.Client
	log       zerolog.Logger

	// etag of the last successful download, used for revalidation.
	// Persisted by the caller via storage meta between runs.
	etag string
}

// NewFetcher builds a Fetcher. cachePath is where the raw payload is stored.
func NewFetcher(url, cachePath string, timeout time.Duration, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		url:       url,
		cachePath: cachePath,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}
}

// SetETag seeds the revalidation tag, typically from persisted meta.
func (f *Fetcher) SetETag(etag string) { f.etag = etag }

// ETag returns the tag of the last successful download.
func (f *Fetcher) ETag() string { return f.etag }

// Fetch downloads and parses the directory. On HTTP 304 the cached copy is
// parsed instead and notModified is true. A failed download or a payload
// that fails validation never touches the cache.
func (f *Fetcher) Fetch(ctx context.Context) (dir *Directory, notModified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s: %w", f.url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		dir, err := f.LoadCache()
		if err != nil {
			return nil, false, fmt.Errorf("payload unchanged but cache unreadable: %w", err)
		}
		return dir, true, nil
	case http.StatusOK:
		// fall through
	default:
		return nil, false, fmt.Errorf("fetch %s: unexpected status %d", f.url, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, false, fmt.Errorf("read payload: %w", err)
	}

	dir, err = Parse(raw)
	if err != nil {
		return nil, false, err
	}

	if err := writeFileAtomic(f.cachePath, raw); err != nil {
		// Parsed fine; a cache write failure is not fatal for this refresh.
		f.log.Warn().Err(err).Str("path", f.cachePath).Msg("failed to write directory cache")
	}
	f.etag = resp.Header.Get("ETag")

	f.log.Debug().Int("servers", dir.Len()).Int("regions", len(dir.Regions())).
		Msg("directory fetched")
	return dir, false, nil
}

// LoadCache parses the on-disk copy of the last good payload.
func (f *Fetcher) LoadCache() (*Directory, error) {
	raw, err := os.ReadFile(f.cachePath)
	if err != nil {
		return nil, fmt.Errorf("read directory cache: %w", err)
	}
	return Parse(raw)
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// never leaves a truncated cache.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".directory-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
