package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "coursebot/internal/log"
	"coursebot/internal/model"
	"coursebot/internal/store"
)

// Digest aggregates a cohort's events of one day into a single message.
// It keeps no state: sending the same day twice sends the same content twice.
type Digest struct {
	Store    *store.Store
	Sender   Sender
	Routing  Routing
	Location *time.Location
	Now      func() time.Time
}

// TargetDay returns midnight of the day after base, in the digest's zone.
// With skipWeekend a Saturday or Sunday target moves to the following Monday.
func (d *Digest) TargetDay(base time.Time, skipWeekend bool) time.Time {
	base = base.In(d.loc())
	day := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, d.loc()).AddDate(0, 0, 1)
	if skipWeekend {
		switch day.Weekday() {
		case time.Saturday:
			day = day.AddDate(0, 0, 2)
		case time.Sunday:
			day = day.AddDate(0, 0, 1)
		}
	}
	return day
}

// EventsOn returns the cohort's events strictly inside (day 00:00, next day 00:00).
func (d *Digest) EventsOn(cohort string, day time.Time) []model.Event {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, d.loc())
	return d.Store.EventsInWindow(cohort, start, start.AddDate(0, 0, 1))
}

// Build renders the digest of cohort for day. ok is false when the cohort
// has nothing scheduled.
func (d *Digest) Build(cohort string, day time.Time, preview bool) (msg Message, ok bool) {
	events := d.EventsOn(cohort, day)
	if len(events) == 0 {
		return Message{}, false
	}
	return DigestMessage(cohort, day, events, d.Routing.Audience(cohort).Mentions, preview), true
}

// Broadcast sends tomorrow's digest of every cohort to its channel. Cohorts
// without events are skipped. It reports whether at least one message went out.
func (d *Digest) Broadcast(ctx context.Context) (bool, error) {
	day := d.TargetDay(d.now(), false)
	sent := false
	var errs []error

	for _, cohort := range d.Store.Cohorts() {
		msg, ok := d.Build(cohort, day, false)
		if !ok {
			appLog.Debug("digest skipped, nothing scheduled", "cohort", cohort, "day", day.Format("2006-01-02"))
			continue
		}
		target, _, err := d.Routing.broadcastTarget(cohort)
		if err == nil {
			err = d.Sender.Send(ctx, target, msg)
		}
		if err != nil {
			appLog.Error("digest delivery failed", err, "cohort", cohort, "day", day.Format("2006-01-02"))
			errs = append(errs, fmt.Errorf("%s: %w", cohort, err))
			continue
		}
		sent = true
		appLog.Info("digest sent", "cohort", cohort, "day", day.Format("2006-01-02"), "events", len(msg.Lines))
	}
	return sent, errors.Join(errs...)
}

// Preview sends the digest of one cohort directly to a user, without
// mentions. The target day is the day after override (or now), moved past
// the weekend. It reports whether a message was sent.
func (d *Digest) Preview(ctx context.Context, cohort, userID string, override *time.Time) (bool, error) {
	base := d.now()
	if override != nil {
		base = *override
	}
	day := d.TargetDay(base, true)

	msg, ok := d.Build(cohort, day, true)
	if !ok {
		return false, nil
	}
	if err := d.Sender.Send(ctx, Target{UserID: userID}, msg); err != nil {
		appLog.Error("digest preview delivery failed", err, "cohort", cohort, "user", userID)
		return false, err
	}
	return true, nil
}

func (d *Digest) loc() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

func (d *Digest) now() time.Time {
	if d.Now != nil {
		return d.Now().In(d.loc())
	}
	return time.Now().In(d.loc())
}
