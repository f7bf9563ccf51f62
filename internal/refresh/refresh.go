package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"coursebot/internal/calendar"
	"coursebot/internal/ics"
	"coursebot/internal/ledger"
	appLog "coursebot/internal/log"
	"coursebot/internal/model"
	"coursebot/internal/store"
)

// Source returns the raw components of one calendar feed.
type Source interface {
	Fetch(ctx context.Context, src ics.Source) ([]model.Component, error)
}

// Status is the outcome of the latest refresh attempts of one cohort.
type Status struct {
	Cohort      string    `json:"cohort"`
	Events      int       `json:"events"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
}

// Coordinator reloads every cohort's calendar into the store. Cohorts are
// loaded independently: a failing feed keeps its previous list and does not
// affect the others.
type Coordinator struct {
	source  Source
	store   *store.Store
	ledger  *ledger.Ledger
	sources []ics.Source
	opts    calendar.Options

	// Parallelism bounds concurrent fetches. Zero means 4.
	Parallelism int

	mu     sync.Mutex
	status map[string]Status
}

func New(source Source, st *store.Store, l *ledger.Ledger, sources []ics.Source, opts calendar.Options) *Coordinator {
	status := make(map[string]Status, len(sources))
	for _, s := range sources {
		status[s.ID] = Status{Cohort: s.ID}
	}
	return &Coordinator{
		source:  source,
		store:   st,
		ledger:  l,
		sources: sources,
		opts:    opts,
		status:  status,
	}
}

// RefreshAll loads every cohort. The returned error joins the per-cohort
// failures; it is informational, the store already holds the best data.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	limit := c.Parallelism
	if limit <= 0 {
		limit = 4
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(limit)

	for _, src := range c.sources {
		g.Go(func() error {
			if err := c.refreshOne(ctx, src); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// RefreshCohort reloads a single cohort by name.
func (c *Coordinator) RefreshCohort(ctx context.Context, cohort string) error {
	for _, src := range c.sources {
		if src.ID == cohort {
			return c.refreshOne(ctx, src)
		}
	}
	return fmt.Errorf("refresh %s: %w", cohort, store.ErrUnknownCohort)
}

// WeeklyReset clears the dedup ledger, then reloads every cohort.
func (c *Coordinator) WeeklyReset(ctx context.Context) error {
	n := c.ledger.Clear()
	appLog.Info("weekly reset: ledger cleared", "keys", n)
	return c.RefreshAll(ctx)
}

func (c *Coordinator) refreshOne(ctx context.Context, src ics.Source) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh %s: panic: %v", src.ID, r)
		}
		c.record(src.ID, started, err)
		if err != nil {
			appLog.Error("calendar refresh failed; keeping previous events", err,
				"cohort", src.ID, "cached", c.store.Len(src.ID))
		}
	}()

	comps, err := c.source.Fetch(ctx, src)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", src.ID, err)
	}

	events := calendar.Normalize(comps, c.opts)
	if err := c.store.Replace(src.ID, events); err != nil {
		return fmt.Errorf("refresh %s: %w", src.ID, err)
	}

	appLog.Info("calendar loaded", "cohort", src.ID, "events", len(events), "took", time.Since(started))
	return nil
}

func (c *Coordinator) record(cohort string, at time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status[cohort]
	st.Cohort = cohort
	st.LastAttempt = at
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastSuccess = at
		st.LastError = ""
	}
	c.status[cohort] = st
}

// Status returns the refresh outcome of every cohort, sorted by name.
func (c *Coordinator) Status() []Status {
	c.mu.Lock()
	out := make([]Status, 0, len(c.status))
	for _, st := range c.status {
		st.Events = c.store.Len(st.Cohort)
		out = append(out, st)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Cohort < out[j].Cohort })
	return out
}
