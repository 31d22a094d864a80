package ics

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calnews//test//EN
BEGIN:VEVENT
UID:talk-1
DTSTAMP:20261001T000000Z
DTSTART:20261020T180000Z
DTEND:20261020T190000Z
SUMMARY:Guest Talk
DESCRIPTION:<p>Distributed systems in practice</p>
URL:https://events.example.edu/talk-1
IMAGE;VALUE=URI:https://img.example.edu/talk.png
END:VEVENT
BEGIN:VEVENT
UID:club
DTSTAMP:20261001T000000Z
DTSTART:20261016T220000Z
DTEND:20261016T230000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20261023T220000Z
SUMMARY:Coding Club
URL:https://events.example.edu/club
END:VEVENT
BEGIN:VEVENT
UID:club
DTSTAMP:20261001T000000Z
RECURRENCE-ID:20261030T220000Z
DTSTART:20261030T230000Z
DTEND:20261031T000000Z
SUMMARY:Coding Club (late start)
URL:https://events.example.edu/club
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20261001T000000Z
DTSTART:20261021T180000Z
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte { return []byte(strings.ReplaceAll(s, "\n", "\r\n")) }

func TestParse(t *testing.T) {
	events, err := Parse("test", crlf(sampleICS))
	require.NoError(t, err)
	require.Len(t, events, 3, "VEVENT without UID is skipped")

	talk := events[0]
	assert.Equal(t, "talk-1", talk.UID)
	assert.Equal(t, "Guest Talk", talk.Summary)
	assert.Equal(t, "https://events.example.edu/talk-1", talk.URL)
	assert.Equal(t, "https://img.example.edu/talk.png", talk.Image)
	assert.False(t, talk.AllDay)
	assert.True(t, talk.Start.Equal(time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)))

	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", events[1].RawRRule)
	assert.Len(t, events[1].ExDates, 1)
	assert.True(t, events[2].IsOverride())
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("test", nil)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	events, err := Parse("test", crlf(sampleICS))
	require.NoError(t, err)

	occ, err := Expand(events, ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var summaries []string
	for _, o := range occ {
		summaries = append(summaries, o.Summary)
	}
	// Weekly x4 minus one EXDATE, with the third instance overridden.
	assert.Equal(t, []string{"Guest Talk", "Coding Club", "Coding Club (late start)", "Coding Club"}, summaries)
	assert.Equal(t, "talk-1", occ[0].Key)
	assert.Equal(t, "club#20261016T220000Z", occ[1].Key)
	assert.True(t, occ[2].Start.Equal(time.Date(2026, 10, 30, 23, 0, 0, 0, time.UTC)))
}

func TestExpandRangeExcludesOutside(t *testing.T) {
	events, err := Parse("test", crlf(sampleICS))
	require.NoError(t, err)

	occ, err := Expand(events, ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, "Coding Club", occ[0].Summary)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := Expand(nil, ExpandConfig{
		RangeStart: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestExpandCapsSeries(t *testing.T) {
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	events := []VEvent{{
		UID:      "daily",
		Summary:  "Daily",
		Start:    start,
		End:      start.Add(time.Hour),
		RawRRule: "FREQ=DAILY",
	}}

	occ, err := Expand(events, ExpandConfig{
		Location:    time.UTC,
		RangeStart:  start,
		RangeEnd:    start.AddDate(0, 1, 0),
		MaxPerEvent: 5,
	})
	require.NoError(t, err)
	assert.Len(t, occ, 5)
}

// The series starts in UTC while EXDATE and RECURRENCE-ID name a zone of
// their own; both must resolve to the same instants as the occurrences.
const zonedExceptionsICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calnews//test//EN
BEGIN:VEVENT
UID:club
DTSTAMP:20261001T000000Z
DTSTART:20261016T220000Z
DTEND:20261016T230000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;TZID=America/New_York:20261023T180000
SUMMARY:Coding Club
END:VEVENT
BEGIN:VEVENT
UID:club
DTSTAMP:20261001T000000Z
RECURRENCE-ID;TZID=America/New_York:20261030T180000
DTSTART:20261030T230000Z
DTEND:20261031T000000Z
SUMMARY:Coding Club (late start)
END:VEVENT
END:VCALENDAR
`

func TestParseZonedExceptions(t *testing.T) {
	prev := time.Local
	time.Local = time.FixedZone("UTC+9", 9*3600)
	t.Cleanup(func() { time.Local = prev })

	events, err := Parse("test", crlf(zonedExceptionsICS))
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Len(t, events[0].ExDates, 1)
	assert.True(t, events[0].ExDates[0].Equal(time.Date(2026, 10, 23, 22, 0, 0, 0, time.UTC)), "got %s", events[0].ExDates[0])
	require.NotNil(t, events[1].Recurrence)
	assert.True(t, events[1].Recurrence.Equal(time.Date(2026, 10, 30, 22, 0, 0, 0, time.UTC)), "got %s", events[1].Recurrence)

	occ, err := Expand(events, ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var summaries []string
	for _, o := range occ {
		summaries = append(summaries, o.Summary)
	}
	assert.Equal(t, []string{"Coding Club", "Coding Club (late start)", "Coding Club"}, summaries)
}

func TestParseICSTimeUsesLocation(t *testing.T) {
	got, err := parseICSTime("20261023T180000", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())

	_, err = parseICSTime(" ", time.UTC)
	assert.Error(t, err)
}
