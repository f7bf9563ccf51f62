package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "coursebot/internal/log"
)

// Job is one unit of scheduled work. A returned error is logged only; the
// next scheduled run is the retry.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     Job
	id      cron.EntryID
}

// Entry describes a registered job for status reporting.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Service runs jobs on cron specs evaluated in a fixed timezone. Every job
// fires on its own goroutine, so a slow job never delays another one; a job
// still running when its next slot comes is skipped for that slot.
type Service struct {
	mu sync.Mutex

	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef

	ctx    context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		loc:    loc,
		parser: parser,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
	}
}

// Add registers a job. spec is a 5-field cron expression or a descriptor
// such as "@hourly" or "@every 30s". A zero timeout means no deadline.
func (s *Service) Add(name, spec string, timeout time.Duration, run Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}

	d := &jobDef{name: name, spec: spec, timeout: timeout, run: run}
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
		s.execute(d)
	}))

	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.c.AddJob(spec, wrapped)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	d.id = id
	s.defs = append(s.defs, d)
	return nil
}

// Start begins firing jobs. Jobs receive a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c.Start()
	appLog.Info("scheduler started", "jobs", len(s.defs), "tz", s.loc.String())
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	stopped := s.c.Stop()
	cancel()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out; jobs still running")
	}
	appLog.Info("scheduler stopped")
}

// Entries lists registered jobs with their next fire time.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := s.c.Entry(d.id)
		out = append(out, Entry{Name: d.name, Spec: d.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) execute(d *jobDef) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("scheduled job panicked", fmt.Errorf("%v", r), "job", d.name, "stack", string(debug.Stack()))
		}
	}()

	if err := d.run(ctx); err != nil {
		appLog.Error("scheduled job failed", err, "job", d.name, "took", time.Since(started))
		return
	}
	appLog.Debug("scheduled job done", "job", d.name, "took", time.Since(started))
}

// cronLogger routes robfig/cron's internal logging to appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
