package notify

import (
	"context"
	"time"

	"coursebot/internal/ledger"
	appLog "coursebot/internal/log"
	"coursebot/internal/store"
)

// scanHorizon bounds the candidate set of a reminder tick.
const scanHorizon = 24 * time.Hour

// Reminder fires one notification per event, lead before its start.
//
// A tick fires an event only when the tick's minute equals the minute of
// start-lead. A tick that is skipped or delayed past that minute misses the
// reminder; the ledger makes several ticks inside the same minute send once.
// All-day events never get a reminder.
type Reminder struct {
	Store    *store.Store
	Ledger   *ledger.Ledger
	Sender   Sender
	Routing  Routing
	Lead     time.Duration
	Location *time.Location
	Now      func() time.Time
}

// Tick scans every cohort once and returns how many reminders were delivered.
func (r *Reminder) Tick(ctx context.Context) int {
	now := r.now()
	sent := 0

	for _, cohort := range r.Store.Cohorts() {
		soon := r.Store.EventsInWindow(cohort, now, now.Add(scanHorizon))
		for _, ev := range soon {
			// Date-only entries have no class start to remind about.
			if ev.AllDay {
				continue
			}
			remindAt := ev.Start.Add(-r.Lead)
			if !sameMinute(now, remindAt) {
				continue
			}

			key := ledger.KeyFor(ev, ledger.KindReminder)
			if !r.Ledger.Claim(key) {
				appLog.Debug("reminder already sent", "cohort", cohort, "key", string(key))
				continue
			}

			target, aud, err := r.Routing.broadcastTarget(cohort)
			if err != nil {
				appLog.Error("reminder not routed", err, "cohort", cohort, "event", ev.ID)
				continue
			}

			msg := ReminderMessage(ev, r.Lead, aud.Mentions)
			if err := r.Sender.Send(ctx, target, msg); err != nil {
				// The key stays claimed: delivery is at most once.
				appLog.Error("reminder delivery failed", err, "cohort", cohort, "event", ev.ID, "target", target.String())
				continue
			}
			sent++
			appLog.Info("reminder sent", "cohort", cohort, "course", ev.Course(), "start", ev.Start.Format("2006-01-02 15:04"))
		}
	}
	return sent
}

func (r *Reminder) now() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}
