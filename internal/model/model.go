package model

import (
	"regexp"
	"strings"
	"time"
)

// Placeholders used when the calendar leaves a field empty.
const (
	UntitledPlaceholder   = "(untitled)"
	NoLocationPlaceholder = "—"
	NoInstructor          = "—"
)

// Component is a raw VEVENT occurrence as produced by the calendar source,
// after recurrence expansion but before normalization. Zero Start or End
// means the property was missing or unparsable.
type Component struct {
	Kind string // "VEVENT"
	UID  string

	Summary     string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time
}

// Event is one normalized calendar occurrence of a cohort. Start and End are
// expressed in the configured display timezone. Events are never mutated
// once stored; a refresh replaces the whole list.
type Event struct {
	ID string

	Title       string
	Location    string
	Description string

	AllDay bool

	Start time.Time
	End   time.Time
}

var (
	spaceRun = regexp.MustCompile(`\s+`)

	// honorificSegment matches a comma-delimited title segment that starts
	// with an honorific, e.g. "Algorithms, Mme Dubois, Room 3".
	honorificSegment = regexp.MustCompile(`(?i)(?:^|,\s*)(?:M\.|Mme|Mr|Mrs|Ms)\s*[^,]+`)
	// honorificLine matches a description line starting with an honorific.
	honorificLine = regexp.MustCompile(`(?i)^(?:M\.|(?:Mme|Mr|Mrs|Ms)\b)`)
)

// Squash collapses every whitespace run to a single space and trims the result.
func Squash(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// Course is the title text before the first comma.
func (e Event) Course() string {
	s := Squash(e.Title)
	if i := strings.Index(s, ","); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return UntitledPlaceholder
	}
	return s
}

// Instructor looks for an honorific-prefixed segment in the title, then for
// an honorific-prefixed line in the description.
func (e Event) Instructor() string {
	s := Squash(e.Title)
	if loc := honorificSegment.FindStringIndex(s); loc != nil {
		seg := strings.TrimLeft(s[loc[0]:], ", ")
		if i := strings.Index(seg, ","); i >= 0 {
			seg = seg[:i]
		}
		if seg = Squash(seg); seg != "" {
			return seg
		}
	}

	for _, line := range strings.Split(e.Description, "\n") {
		line = Squash(line)
		if honorificLine.MatchString(line) {
			return line
		}
	}
	return NoInstructor
}

// FirstDescriptionLine returns the first non-empty description line, or "".
func (e Event) FirstDescriptionLine() string {
	for _, line := range strings.Split(e.Description, "\n") {
		if line = Squash(line); line != "" {
			return line
		}
	}
	return ""
}
