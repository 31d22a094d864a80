package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calnews/internal/log"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "calnews/1.0"

	// maxBodyBytes bounds how much of a feed response is read.
	maxBodyBytes = 16 << 20
)

// Body is a fetched feed payload.
type Body struct {
	Data      []byte
	FromCache bool // true if the cached copy was served (304 or stale fallback)
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// httpGetter performs conditional GETs against a disk cache keyed by a hash
// of the URL. A 304 always reuses the cached copy. A network error or non-OK
// status only does so when staleOnError is set; otherwise it is an error.
type httpGetter struct {
	client       *http.Client
	cacheDir     string
	staleOnError bool
}

func newHTTPGetter(cacheDir string, timeout time.Duration, staleOnError bool) *httpGetter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &httpGetter{
		client:       &http.Client{Timeout: timeout},
		cacheDir:     cacheDir,
		staleOnError: staleOnError,
	}
}

func (g *httpGetter) get(ctx context.Context, id, rawURL string) (Body, error) {
	if rawURL == "" {
		return Body{}, errors.New("feed URL is empty")
	}

	var (
		meta   cacheEntry
		cached []byte
		dir    string
	)
	if g.cacheDir != "" {
		dir = g.cachePathForURL(rawURL)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return Body{}, err
		}
		meta, _ = loadCacheMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Body{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/calendar, text/xml;q=0.9, */*;q=0.8")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("feed fetch start", "id", id, "url", redactURL(rawURL))

	resp, err := g.client.Do(req)
	if err != nil {
		if g.staleOnError && len(cached) > 0 && ctx.Err() == nil {
			appLog.Error("feed fetch network error, using cached body", err, "id", id, "url", redactURL(rawURL))
			return Body{Data: cached, FromCache: true}, nil
		}
		return Body{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return Body{}, err
		}
		if dir != "" {
			newMeta := cacheEntry{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(dir, newMeta, data); err != nil {
				appLog.Error("feed cache save failed", err, "id", id, "url", redactURL(rawURL))
			}
		}
		appLog.Info("feed fetch success", "id", id, "url", redactURL(rawURL), "bytes", len(data))
		return Body{Data: data}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Body{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("feed not modified; using cache", "id", id, "url", redactURL(rawURL))
		return Body{Data: cached, FromCache: true}, nil

	default:
		if g.staleOnError && len(cached) > 0 {
			appLog.Error("feed fetch non-OK, using cached body", errors.New(resp.Status), "id", id, "url", redactURL(rawURL), "status", resp.StatusCode)
			return Body{Data: cached, FromCache: true}, nil
		}
		return Body{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
}

func (g *httpGetter) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(g.cacheDir, "feeds", hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(dir string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(dir string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only, so tokens in paths or queries never
// reach the logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "feed://...(redacted)"
	}
	if u.Path == "" && u.RawQuery == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
