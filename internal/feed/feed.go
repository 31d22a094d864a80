package feed

import (
	"context"
	"fmt"
	"time"

	"calnews/internal/model"
)

const (
	FormatRSS = "rss"
	FormatICS = "ics"
)

// Source is one calendar feed.
type Source struct {
	// ID is used in logs and metrics (the profile ID).
	ID  string
	URL string
	// Format is FormatRSS (default) or FormatICS.
	Format string
}

// Fetcher retrieves and parses calendar feeds into raw events.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]model.RawEvent, error)
}

// Options configures an HTTPFetcher.
type Options struct {
	// CacheDir enables the conditional-GET cache when set.
	CacheDir string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// LookaheadDays bounds recurrence expansion for ICS feeds.
	LookaheadDays int
	// Now is the reference clock for ICS expansion; time.Now when nil.
	Now func() time.Time
	// StaleOnError serves the last cached body when the origin is down or
	// answers non-OK. Off by default: a failed fetch fails the run.
	StaleOnError bool
}

// HTTPFetcher fetches feeds over HTTP and decodes them according to the
// source format.
type HTTPFetcher struct {
	getter        *httpGetter
	lookaheadDays int
	now           func() time.Time
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.LookaheadDays <= 0 {
		opts.LookaheadDays = 90
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &HTTPFetcher{
		getter:        newHTTPGetter(opts.CacheDir, opts.Timeout, opts.StaleOnError),
		lookaheadDays: opts.LookaheadDays,
		now:           opts.Now,
	}
}

// Fetch downloads src and parses it into raw events in feed order.
func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) ([]model.RawEvent, error) {
	body, err := f.getter.get(ctx, src.ID, src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", src.ID, err)
	}

	switch src.Format {
	case "", FormatRSS:
		events, err := ParseRSS(src.ID, body.Data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", src.ID, err)
		}
		return events, nil
	case FormatICS:
		now := f.now()
		events, err := ParseICS(src.ID, body.Data, now.AddDate(0, 0, -1), now.AddDate(0, 0, f.lookaheadDays))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", src.ID, err)
		}
		return events, nil
	default:
		return nil, fmt.Errorf("feed %s: unsupported format %q", src.ID, src.Format)
	}
}
