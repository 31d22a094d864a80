package model

import "time"

// RawEvent is one feed item as delivered by a feed source, before any
// cleanup. Fields mirror what the calendar feed publishes; nothing here is
// guaranteed to be present.
type RawEvent struct {
	SourceID string // profile / feed identifier used in logs

	// Date is the date string as published (kept for error reporting).
	Date string
	// DateParsed is the parsed form of Date, nil if missing or unparseable.
	DateParsed *time.Time

	Title          string
	ContentSnippet string // raw HTML
	Link           string
	Media          string // first media:content url, may be empty
}

// Event is a normalized feed item ready for rendering.
type Event struct {
	Date    time.Time `json:"date"`
	Title   string    `json:"title"`
	Snippet string    `json:"snippet"` // plain text, at most 200 characters
	Link    string    `json:"link"`    // dedup key
	Media   string    `json:"media"`
}

// Buckets is the output of the transform step.
//
// Before holds events inside the date window, After the "save the date"
// events beyond it. Skipped collects the per-item errors for feed items that
// were dropped.
type Buckets struct {
	Before  []Event `json:"before"`
	After   []Event `json:"after"`
	Skipped []error `json:"-"`
}

// Empty reports whether neither bucket has anything to show.
func (b Buckets) Empty() bool {
	return len(b.Before) == 0 && len(b.After) == 0
}
