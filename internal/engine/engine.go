package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursebot/internal/calendar"
	"coursebot/internal/ics"
	"coursebot/internal/ledger"
	appLog "coursebot/internal/log"
	"coursebot/internal/model"
	"coursebot/internal/notify"
	"coursebot/internal/refresh"
	"coursebot/internal/scheduler"
	"coursebot/internal/store"
)

// ErrNoCohort is returned to callers that do not belong to any cohort.
var ErrNoCohort = errors.New("no cohort")

// Options wires the engine to its collaborators.
type Options struct {
	Source   refresh.Source
	Sender   notify.Sender
	Sources  []ics.Source
	Routing  notify.Routing
	Lead     time.Duration
	Location *time.Location

	DropAllDay bool

	// Now is overridable in tests.
	Now func() time.Time
}

// Engine owns the shared event store and dedup ledger and exposes the
// trigger entry points the timers and the command surface call.
type Engine struct {
	store    *store.Store
	ledger   *ledger.Ledger
	reminder *notify.Reminder
	digest   *notify.Digest
	refresh  *refresh.Coordinator
	loc      *time.Location
	now      func() time.Time
}

func New(opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	names := make([]string, 0, len(opts.Sources))
	for _, s := range opts.Sources {
		names = append(names, s.ID)
	}
	st := store.New(names...)
	l := ledger.New()

	return &Engine{
		store:  st,
		ledger: l,
		reminder: &notify.Reminder{
			Store:    st,
			Ledger:   l,
			Sender:   opts.Sender,
			Routing:  opts.Routing,
			Lead:     opts.Lead,
			Location: loc,
			Now:      now,
		},
		digest: &notify.Digest{
			Store:    st,
			Sender:   opts.Sender,
			Routing:  opts.Routing,
			Location: loc,
			Now:      now,
		},
		refresh: refresh.New(opts.Source, st, l, opts.Sources, calendar.Options{
			Location:   loc,
			DropAllDay: opts.DropAllDay,
		}),
		loc: loc,
		now: now,
	}
}

// Startup loads every cohort once, blocking. Cohorts whose source fails stay
// empty; the error is informational.
func (e *Engine) Startup(ctx context.Context) error {
	err := e.refresh.RefreshAll(ctx)
	appLog.Info("initial calendar load done", "cohorts", len(e.store.Cohorts()), "failed", err != nil)
	return err
}

// OnTick runs one reminder scan.
func (e *Engine) OnTick(ctx context.Context) error {
	e.reminder.Tick(ctx)
	return nil
}

// OnDailyDigestTime broadcasts tomorrow's digest of every cohort.
func (e *Engine) OnDailyDigestTime(ctx context.Context) error {
	_, err := e.digest.Broadcast(ctx)
	return err
}

// OnWeeklyReset clears the ledger and reloads every calendar.
func (e *Engine) OnWeeklyReset(ctx context.Context) error {
	return e.refresh.WeeklyReset(ctx)
}

// OnHourlyRefresh reloads every calendar.
func (e *Engine) OnHourlyRefresh(ctx context.Context) error {
	return e.refresh.RefreshAll(ctx)
}

// OnLedgerClear drops every dedup key.
func (e *Engine) OnLedgerClear(context.Context) error {
	n := e.ledger.Clear()
	appLog.Info("ledger cleared", "keys", n)
	return nil
}

// OnDemandDigest sends a digest preview of cohort to userID. See
// notify.Digest.Preview for the target day rules.
func (e *Engine) OnDemandDigest(ctx context.Context, cohort, userID string, override *time.Time) (bool, error) {
	if err := e.checkCohort(cohort); err != nil {
		return false, err
	}
	return e.digest.Preview(ctx, cohort, userID, override)
}

// DigestPreview renders what OnDemandDigest would send, without sending it.
func (e *Engine) DigestPreview(cohort string, override *time.Time) (notify.Message, time.Time, bool, error) {
	if err := e.checkCohort(cohort); err != nil {
		return notify.Message{}, time.Time{}, false, err
	}
	base := e.Now()
	if override != nil {
		base = *override
	}
	day := e.digest.TargetDay(base, true)
	msg, ok := e.digest.Build(cohort, day, true)
	return msg, day, ok, nil
}

// NextEvent returns the cohort's first event starting after now.
func (e *Engine) NextEvent(cohort string) (model.Event, bool, error) {
	if err := e.checkCohort(cohort); err != nil {
		return model.Event{}, false, err
	}
	ev, ok := e.store.NextEvent(cohort, e.Now())
	return ev, ok, nil
}

// Upcoming returns the cohort's events starting within d from now.
func (e *Engine) Upcoming(cohort string, d time.Duration) ([]model.Event, error) {
	if err := e.checkCohort(cohort); err != nil {
		return nil, err
	}
	now := e.Now()
	return e.store.EventsInWindow(cohort, now, now.Add(d)), nil
}

// RefreshCohort reloads one cohort, or every cohort when cohort is empty.
func (e *Engine) RefreshCohort(ctx context.Context, cohort string) error {
	if cohort == "" {
		return e.refresh.RefreshAll(ctx)
	}
	return e.refresh.RefreshCohort(ctx, cohort)
}

// Status reports every cohort's cache size and refresh outcome.
func (e *Engine) Status() []refresh.Status { return e.refresh.Status() }

// LedgerSize returns the number of recorded reminder keys.
func (e *Engine) LedgerSize() int { return e.ledger.Len() }

// Cohorts returns the known cohort names.
func (e *Engine) Cohorts() []string { return e.store.Cohorts() }

// Now returns the current time in the engine's zone.
func (e *Engine) Now() time.Time { return e.now().In(e.loc) }

// Location returns the engine's civil timezone.
func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) checkCohort(cohort string) error {
	if cohort == "" {
		return ErrNoCohort
	}
	if !e.store.Has(cohort) {
		return fmt.Errorf("%q: %w", cohort, store.ErrUnknownCohort)
	}
	return nil
}

// Schedules are the cron specs of the periodic triggers.
type Schedules struct {
	Tick        time.Duration
	Digest      string
	Refresh     string
	WeeklyReset string
	LedgerClear string
}

// Register wires every periodic trigger onto s.
func (e *Engine) Register(s *scheduler.Service, sch Schedules) error {
	tick := sch.Tick
	if tick <= 0 {
		tick = 30 * time.Second
	}
	jobs := []struct {
		name    string
		spec    string
		timeout time.Duration
		run     scheduler.Job
	}{
		{"reminder-tick", fmt.Sprintf("@every %s", tick), 2 * time.Minute, e.OnTick},
		{"daily-digest", sch.Digest, 5 * time.Minute, e.OnDailyDigestTime},
		{"calendar-refresh", sch.Refresh, 5 * time.Minute, e.OnHourlyRefresh},
		{"weekly-reset", sch.WeeklyReset, 5 * time.Minute, e.OnWeeklyReset},
		{"ledger-clear", sch.LedgerClear, time.Minute, e.OnLedgerClear},
	}
	var errs []error
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.timeout, j.run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
