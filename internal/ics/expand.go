package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "coursebot/internal/log"
	"coursebot/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound the occurrences generated from an RRULE.
	// Non-recurring events are passed through regardless of the range.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into concrete components:
//
//   - single events are emitted as-is
//   - RRULE events are expanded within the range, minus EXDATEs
//   - RECURRENCE-ID overrides replace the matching generated instance
//
// Times keep the location they were parsed with; conversion into the display
// timezone is the normalizer's job.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.Component, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	recurringUIDs := make(map[string]bool)
	for _, ev := range events {
		if ev.RawRRule != "" && !ev.IsOverride() {
			recurringUIDs[ev.UID] = true
		}
	}

	overridesByUID := make(map[string][]ParsedEvent)
	out := make([]model.Component, 0, len(events))

	for _, ev := range events {
		if ev.IsOverride() && recurringUIDs[ev.UID] {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	for _, ev := range events {
		switch {
		case ev.IsOverride() && recurringUIDs[ev.UID]:
			// emitted by its base event
		case ev.RawRRule != "" && !ev.Start.IsZero():
			occ, hitCap := expandRecurring(ev, overridesByUID[ev.UID], cfg)
			if hitCap {
				appLog.Warn("expand: truncated occurrences for UID due to cap",
					"uid", ev.UID,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}
			out = append(out, occ...)
		default:
			out = append(out, component(ev, ev.Start, ev.End))
		}
	}

	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Component, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE; keeping first instance", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return []model.Component{component(ev, ev.Start, ev.End)}, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Component, 0, len(starts))
	for _, start := range starts {
		if o, ok := findOverride(overrides, start); ok {
			out = append(out, component(o, o.Start, o.End))
			continue
		}
		end := start.Add(dur)
		if ev.End.IsZero() {
			end = time.Time{}
		}
		out = append(out, component(ev, start, end))
	}
	return out, hitCap
}

// findOverride finds an override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func component(ev ParsedEvent, start, end time.Time) model.Component {
	return model.Component{
		Kind:        "VEVENT",
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}
