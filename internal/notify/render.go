package notify

import (
	"fmt"
	"strings"
	"time"

	"coursebot/internal/model"
)

const (
	colorReminder = 0x2ECC71
	colorNext     = 0x3498DB
	colorDigest   = 0xF1C40F
	colorWeek     = 0x9B59B6
)

const (
	dayLayout  = "Monday 02/01"
	timeLayout = "15:04"
)

func eventFields(ev model.Event) []Field {
	return []Field{
		{Name: "📅 Day", Value: ev.Start.Format(dayLayout), Inline: true},
		{Name: "⏰ Time", Value: ev.Start.Format(timeLayout), Inline: true},
		{Name: "🏫 Room", Value: ev.Location, Inline: true},
		{Name: "📚 Course", Value: ev.Course()},
		{Name: "👨‍🏫 Instructor", Value: ev.Instructor()},
	}
}

// ReminderMessage announces an event starting in lead.
func ReminderMessage(ev model.Event, lead time.Duration, mentions []string) Message {
	return Message{
		Title:    fmt.Sprintf("🔔 Reminder: class in %s!", humanDuration(lead)),
		Fields:   eventFields(ev),
		Mentions: mentions,
		Color:    colorReminder,
	}
}

// NextMessage describes the next event of a cohort.
func NextMessage(ev model.Event) Message {
	return Message{
		Title:  "📌 Next class",
		Fields: eventFields(ev),
		Color:  colorNext,
	}
}

// DigestLine renders one event as "08:30–10:00 · course · instructor · room".
func DigestLine(ev model.Event) string {
	return fmt.Sprintf("%s–%s · %s · %s · %s",
		ev.Start.Format(timeLayout), ev.End.Format(timeLayout),
		ev.Course(), ev.Instructor(), ev.Location)
}

// DigestMessage aggregates one cohort's events of a day. Broadcasts carry
// the cohort's mentions; previews do not.
func DigestMessage(cohort string, day time.Time, events []model.Event, mentions []string, preview bool) Message {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, DigestLine(ev))
	}

	msg := Message{
		Title:  "🗓️ Classes for " + day.Format(dayLayout),
		Lines:  lines,
		Color:  colorDigest,
		Footer: cohort,
	}
	if preview {
		msg.Description = "Preview of your schedule."
	} else {
		msg.Description = "Here is tomorrow's schedule."
		msg.Mentions = mentions
	}
	return msg
}

// WeekMessage lists upcoming events until the given instant.
func WeekMessage(until time.Time, events []model.Event) Message {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		line := fmt.Sprintf("• %s–%s | %s | Room: %s",
			ev.Start.Format(dayLayout+" "+timeLayout), ev.End.Format(timeLayout), ev.Title, ev.Location)
		if first := ev.FirstDescriptionLine(); first != "" {
			line += "\n    " + first
		}
		lines = append(lines, line)
	}
	return Message{
		Title: "📚 Upcoming classes (until " + until.Format("02/01 15:04") + ")",
		Lines: lines,
		Color: colorWeek,
	}
}

// Text flattens a message for plain-text transports and logs.
func (m Message) Text() string {
	var b strings.Builder
	if len(m.Mentions) > 0 {
		b.WriteString(strings.Join(m.Mentions, " "))
		b.WriteString("\n")
	}
	b.WriteString(m.Title)
	if m.Description != "" {
		b.WriteString("\n")
		b.WriteString(m.Description)
	}
	for _, f := range m.Fields {
		b.WriteString("\n")
		b.WriteString(f.Name + ": " + f.Value)
	}
	for _, l := range m.Lines {
		b.WriteString("\n")
		b.WriteString(l)
	}
	return b.String()
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d == time.Minute:
		return "1 minute"
	}
	if d%time.Hour == 0 && d >= time.Hour {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
