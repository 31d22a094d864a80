package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calnews/internal/log"
)

const defaultMaxOccurrences = 500

// Occurrence is one concrete instance of a VEVENT.
type Occurrence struct {
	VEvent
	// Key identifies the instance: the UID for single events, UID plus the
	// instance start for recurring ones.
	Key string
}

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	Location   *time.Location // display zone, time.Local when nil
	RangeStart time.Time
	RangeEnd   time.Time
	// MaxPerEvent caps the instances taken from one series.
	MaxPerEvent int
}

// Expand turns parsed VEVENTs into occurrences within [RangeStart,
// RangeEnd], applying RRULE, EXDATE and RECURRENCE-ID overrides. The result
// is ordered by series first appearance, then by instance start.
func Expand(events []VEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("ics: range end is before range start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxPerEvent <= 0 {
		cfg.MaxPerEvent = defaultMaxOccurrences
	}

	// Group series and overrides by UID, remembering first-seen order so the
	// output is stable across runs.
	var order []string
	base := make(map[string][]VEvent)
	overrides := make(map[string][]VEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, ok := base[ev.UID]; !ok {
			order = append(order, ev.UID)
		}
		base[ev.UID] = append(base[ev.UID], ev)
	}

	out := make([]Occurrence, 0, len(events))
	for _, uid := range order {
		for _, ev := range base[uid] {
			if ev.RawRRule == "" {
				if overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
					out = append(out, occurrence(applyOverride(ev, overrides[uid], ev.Start), ev.UID, cfg.Location))
				}
				continue
			}
			occ, capped := expandSeries(ev, overrides[uid], cfg)
			if capped {
				appLog.Warn("ics series truncated", "uid", uid, "cap", cfg.MaxPerEvent)
			}
			out = append(out, occ...)
		}
	}
	return out, nil
}

func expandSeries(ev VEvent, overrides []VEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics rrule rejected", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	capped := false
	if len(starts) > cfg.MaxPerEvent {
		starts = starts[:cfg.MaxPerEvent]
		capped = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		inst := ev
		inst.RawRRule = ""
		inst.ExDates = nil
		if ev.AllDay {
			inst.Start = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			inst.End = inst.Start.AddDate(0, 0, 1)
		} else {
			inst.Start = s
			inst.End = s.Add(dur)
		}
		inst = applyOverride(inst, overrides, s)
		key := fmt.Sprintf("%s#%s", ev.UID, s.UTC().Format("20060102T150405Z"))
		out = append(out, occurrence(inst, key, cfg.Location))
	}
	return out, capped
}

// applyOverride swaps in the override whose RECURRENCE-ID equals start.
func applyOverride(ev VEvent, overrides []VEvent, start time.Time) VEvent {
	for _, ov := range overrides {
		if ov.Recurrence.In(start.Location()).Equal(start) {
			return ov
		}
	}
	return ev
}

func occurrence(ev VEvent, key string, loc *time.Location) Occurrence {
	ev.Start = ev.Start.In(loc)
	ev.End = ev.End.In(loc)
	return Occurrence{VEvent: ev, Key: key}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
