package calendar

import (
	"sort"
	"strings"
	"time"

	"coursebot/internal/model"
)

// Options controls normalization of one cohort's components.
type Options struct {
	// Location is the civil timezone every instant is converted to.
	Location *time.Location
	// DropAllDay removes date-only events.
	DropAllDay bool
}

// Normalize converts raw components into a sorted, deduplicated event list.
//
// Components that are not VEVENTs, lack a start or an end, or end before they
// start are skipped. The result is ordered by start, ties broken by id, and
// contains each (id, start) pair once.
func Normalize(components []model.Component, opts Options) []model.Event {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	seen := make(map[string]struct{}, len(components))
	events := make([]model.Event, 0, len(components))

	for _, c := range components {
		if c.Kind != "" && !strings.EqualFold(c.Kind, "VEVENT") {
			continue
		}
		if c.Start.IsZero() || c.End.IsZero() || !c.Start.Before(c.End) {
			continue
		}
		if opts.DropAllDay && c.AllDay {
			continue
		}

		ev := model.Event{
			ID:          EventID(c),
			Title:       strings.TrimSpace(c.Summary),
			Location:    strings.TrimSpace(c.Location),
			Description: c.Description,
			AllDay:      c.AllDay,
			Start:       c.Start.In(loc),
			End:         c.End.In(loc),
		}
		if c.AllDay {
			ev.Start = civilMidnight(c.Start, loc)
			ev.End = civilMidnight(c.End, loc)
		}
		if ev.Title == "" {
			ev.Title = model.UntitledPlaceholder
		}
		if ev.Location == "" {
			ev.Location = model.NoLocationPlaceholder
		}

		key := ev.ID + "|" + ev.Start.UTC().Format(time.RFC3339)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
	return events
}

// civilMidnight keeps the calendar day of t and moves it to 00:00 in loc.
func civilMidnight(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EventID is the source UID, or title and UTC start when the UID is absent.
// The fallback only depends on component content so it is stable across
// refreshes of unchanged data.
func EventID(c model.Component) string {
	if uid := strings.TrimSpace(c.UID); uid != "" {
		return uid
	}
	return strings.TrimSpace(c.Summary) + "-" + c.Start.UTC().Format(time.RFC3339)
}
