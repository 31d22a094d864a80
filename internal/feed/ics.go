package feed

import (
	"time"

	"calnews/internal/ics"
	"calnews/internal/model"
)

// ParseICS decodes an iCalendar feed and expands recurring events within
// [from, to]. Each occurrence becomes one raw event; occurrences without a
// URL get a per-instance link so they survive link de-duplication as
// distinct events.
func ParseICS(sourceID string, data []byte, from, to time.Time) ([]model.RawEvent, error) {
	vevents, err := ics.Parse(sourceID, data)
	if err != nil {
		return nil, err
	}

	occ, err := ics.Expand(vevents, ics.ExpandConfig{
		Location:   from.Location(),
		RangeStart: from,
		RangeEnd:   to,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.RawEvent, 0, len(occ))
	for _, o := range occ {
		start := o.Start
		link := o.URL
		if link == "" {
			link = "urn:ical:" + o.Key
		}
		out = append(out, model.RawEvent{
			SourceID:       sourceID,
			Date:           start.Format(time.RFC3339),
			DateParsed:     &start,
			Title:          o.Summary,
			ContentSnippet: o.Description,
			Link:           link,
			Media:          o.Image,
		})
	}
	return out, nil
}
