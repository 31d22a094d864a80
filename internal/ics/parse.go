package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calnews/internal/log"
)

// VEvent is the subset of a VEVENT the newsletter needs, before recurrence
// expansion.
type VEvent struct {
	UID string

	Summary     string
	Description string
	URL         string
	Image       string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides only
}

// IsOverride reports whether this VEVENT replaces one instance of a
// recurring series.
func (v VEvent) IsOverride() bool { return v.Recurrence != nil }

// Parse decodes an iCalendar payload. VEVENTs that cannot be decoded are
// logged and skipped; the rest of the calendar is still returned.
func Parse(sourceID string, body []byte) ([]VEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]VEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := decodeVEvent(comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "source", sourceID, "err", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "source", sourceID, "event_count", len(events))
	return events, nil
}

func decodeVEvent(ve *ical.VEvent) (VEvent, error) {
	var out VEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.URL = p.Value
	}
	out.Image = imageOf(ve)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start
	// DTEND is optional; a missing end collapses to the start instant.
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else {
		out.End = start
	}

	if dt := ve.GetProperty(ical.ComponentPropertyDtStart); dt != nil {
		out.AllDay = isDateValue(dt)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := tzidLocation(p)
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		if t, err := parseICSTime(rid.Value, tzidLocation(rid)); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// imageOf returns the first image attachment. Calendar exports put it either
// in IMAGE (RFC 7986) or in an ATTACH with an image/* FMTTYPE.
func imageOf(ve *ical.VEvent) string {
	if p := ve.GetProperty(ical.ComponentProperty("IMAGE")); p != nil && p.Value != "" {
		return p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttach) {
		if fmts, ok := p.ICalParameters["FMTTYPE"]; ok && len(fmts) > 0 && strings.HasPrefix(fmts[0], "image/") {
			return p.Value
		}
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// tzidLocation resolves the TZID parameter of p. Floating values and
// unknown zones fall back to time.Local.
func tzidLocation(p *ical.IANAProperty) *time.Location {
	ids, ok := p.ICalParameters[string(ical.ParameterTzid)]
	if !ok || len(ids) == 0 || ids[0] == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(strings.Trim(ids[0], `"`))
	if err != nil {
		appLog.Warn("ics unknown TZID", "tzid", ids[0], "err", err)
		return time.Local
	}
	return loc
}

// parseICSTime handles the DATE / DATE-TIME / UTC forms used by EXDATE and
// RECURRENCE-ID. Non-UTC values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
