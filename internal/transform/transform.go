package transform

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"calnews/internal/model"
)

const (
	DefaultHorizonDays   = 14
	DefaultSnippetLength = 200
)

// Options controls the date window and snippet shaping.
type Options struct {
	// HorizonDays is the size of the "upcoming" window measured from now.
	HorizonDays int
	// SnippetLength caps the plain-text snippet, in runes.
	SnippetLength int
	// PlaceholderMedia replaces a missing media URL.
	PlaceholderMedia string
}

func (o Options) withDefaults() Options {
	if o.HorizonDays <= 0 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.SnippetLength <= 0 {
		o.SnippetLength = DefaultSnippetLength
	}
	return o
}

// Sentinels wrapped by MalformedFeedItem. A field that is absent wraps
// ErrMissingField; one that is present but cannot be read wraps
// ErrInvalidField.
var (
	ErrMissingField = errors.New("required field missing")
	ErrInvalidField = errors.New("invalid field value")
)

// MalformedFeedItem reports a single feed item whose required field is
// missing or unreadable.
// It is recoverable: the item is skipped and the rest of the feed is kept.
type MalformedFeedItem struct {
	Index int    // position in the raw feed
	Field string // date, title or link
	Title string
	Link  string
	Err   error
}

func (e *MalformedFeedItem) Error() string {
	return fmt.Sprintf("feed item %d: %s: %v", e.Index, e.Field, e.Err)
}

func (e *MalformedFeedItem) Unwrap() error { return e.Err }

// strict removes every tag; only text content survives.
var strict = bluemonday.StrictPolicy()

// Transform normalizes raw feed items and splits them into the upcoming and
// save-the-date buckets, keeping the first item seen for each link.
//
// An item is in Before when its date is at or before now+HorizonDays and in
// After otherwise. Transform is pure: the same input and now always yield the
// same Buckets.
func Transform(raw []model.RawEvent, now time.Time, opts Options) model.Buckets {
	opts = opts.withDefaults()
	cutoff := now.AddDate(0, 0, opts.HorizonDays)

	var out model.Buckets
	var before, after []model.Event

	for i, r := range raw {
		ev, err := Normalize(i, r, opts)
		if err != nil {
			out.Skipped = append(out.Skipped, err)
			continue
		}
		if ev.Date.After(cutoff) {
			after = append(after, ev)
		} else {
			before = append(before, ev)
		}
	}

	out.Before = UniqueByLink(before)
	out.After = UniqueByLink(after)
	return out
}

// Normalize validates a single raw item and converts it to an Event.
func Normalize(index int, r model.RawEvent, opts Options) (model.Event, error) {
	opts = opts.withDefaults()

	title := strings.TrimSpace(r.Title)
	link := strings.TrimSpace(r.Link)

	malformed := func(field string, err error) error {
		return &MalformedFeedItem{Index: index, Field: field, Title: title, Link: link, Err: err}
	}

	switch {
	case r.DateParsed == nil && strings.TrimSpace(r.Date) == "":
		return model.Event{}, malformed("date", ErrMissingField)
	case r.DateParsed == nil || r.DateParsed.IsZero():
		return model.Event{}, malformed("date", fmt.Errorf("%w: unparseable date %q", ErrInvalidField, r.Date))
	case title == "":
		return model.Event{}, malformed("title", ErrMissingField)
	case link == "":
		return model.Event{}, malformed("link", ErrMissingField)
	}

	media := strings.TrimSpace(r.Media)
	if media == "" {
		media = opts.PlaceholderMedia
	}

	return model.Event{
		Date:    *r.DateParsed,
		Title:   title,
		Snippet: Snippet(r.ContentSnippet, opts.SnippetLength),
		Link:    link,
		Media:   media,
	}, nil
}

// Snippet turns a raw HTML fragment into a single line of plain text of at
// most n runes. Truncation is not word-aware.
func Snippet(raw string, n int) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(strict.Sanitize(raw))
	text = strings.NewReplacer(
		"\r\n", "",
		"\n", "",
		"\r", "",
		"<", "",
		">", "",
	).Replace(text)
	return truncate(text, n)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// UniqueByLink keeps the first event for every distinct link, preserving
// the relative order of the survivors.
func UniqueByLink(events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, ok := seen[ev.Link]; ok {
			continue
		}
		seen[ev.Link] = struct{}{}
		out = append(out, ev)
	}
	return out
}
