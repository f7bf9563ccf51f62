package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "coursebot/internal/log"
)

// ParsedEvent is one VEVENT as read from the ICS payload, before recurrence
// expansion.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string

	Start  time.Time // zero when DTSTART is missing or unparsable
	End    time.Time // zero when DTEND is missing or unparsable
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides one instance
}

// IsOverride reports whether the event replaces a single recurring instance.
func (p ParsedEvent) IsOverride() bool { return p.Recurrence != nil }

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - VTIMEZONE/TZID handling is left to the library so times carry their
//     proper Location.
//   - Missing DTSTART/DTEND leave a zero time; the normalizer drops those.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded, expansion is done in expand.go.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", src.ID, err)
	}

	vevents := cal.Events()
	events := make([]ParsedEvent, 0, len(vevents))
	for _, ve := range vevents {
		events = append(events, parseVEvent(ve))
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) ParsedEvent {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	if start, err := ve.GetStartAt(); err == nil {
		out.Start = start
	}
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	// VALUE=DATE or no 'T' in the value -> all-day
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(p.Value, "T") {
			out.AllDay = true
		}
	}

	// Dates carry no zone: keep them as UTC midnight so the calendar day
	// survives, the normalizer places them in the display zone.
	if out.AllDay {
		out.Start = dateValue(ve.GetProperty(ical.ComponentPropertyDtStart))
		out.End = dateValue(ve.GetProperty(ical.ComponentPropertyDtEnd))
		if out.End.IsZero() && !out.Start.IsZero() {
			out.End = out.Start.AddDate(0, 0, 1)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	loc := time.UTC
	if !out.Start.IsZero() {
		loc = out.Start.Location()
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		exLoc := paramLocation(p.ICalParameters, loc)
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, exLoc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, paramLocation(p.ICalParameters, loc)); err == nil {
			out.Recurrence = &t
		}
	}

	return out
}

// dateValue reads the YYYYMMDD part of a DATE property as UTC midnight.
func dateValue(p *ical.IANAProperty) time.Time {
	if p == nil {
		return time.Time{}
	}
	v := strings.TrimSpace(p.Value)
	if len(v) < 8 {
		return time.Time{}
	}
	t, err := time.Parse("20060102", v[:8])
	if err != nil {
		return time.Time{}
	}
	return t
}

func paramLocation(params map[string][]string, fallback *time.Location) *time.Location {
	if tzs := params["TZID"]; len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return fallback
}

// parseICSTime parses a DATE or DATE-TIME value. UTC values ("...Z") ignore loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
