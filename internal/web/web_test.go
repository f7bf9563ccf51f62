package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursebot/internal/config"
	"coursebot/internal/engine"
	"coursebot/internal/ics"
	"coursebot/internal/model"
	"coursebot/internal/notify"
	"coursebot/internal/refresh"
	"coursebot/internal/scheduler"
	"coursebot/internal/store"
)

type fakeEngine struct {
	now        time.Time
	events     []model.Event
	refreshErr error
	refreshed  []string
	override   *time.Time
}

func (f *fakeEngine) check(cohort string) error {
	switch cohort {
	case "":
		return engine.ErrNoCohort
	case "groupe1":
		return nil
	default:
		return fmt.Errorf("%q: %w", cohort, store.ErrUnknownCohort)
	}
}

func (f *fakeEngine) Status() []refresh.Status {
	return []refresh.Status{{Cohort: "groupe1", Events: len(f.events), LastSuccess: f.now}}
}

func (f *fakeEngine) LedgerSize() int { return 3 }

func (f *fakeEngine) Upcoming(cohort string, d time.Duration) ([]model.Event, error) {
	if err := f.check(cohort); err != nil {
		return nil, err
	}
	var out []model.Event
	for _, ev := range f.events {
		if ev.Start.After(f.now) && ev.Start.Before(f.now.Add(d)) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEngine) NextEvent(cohort string) (model.Event, bool, error) {
	if err := f.check(cohort); err != nil {
		return model.Event{}, false, err
	}
	if len(f.events) == 0 {
		return model.Event{}, false, nil
	}
	return f.events[0], true, nil
}

func (f *fakeEngine) RefreshCohort(_ context.Context, cohort string) error {
	if cohort != "" {
		if err := f.check(cohort); err != nil {
			return err
		}
	}
	f.refreshed = append(f.refreshed, cohort)
	return f.refreshErr
}

func (f *fakeEngine) DigestPreview(cohort string, override *time.Time) (notify.Message, time.Time, bool, error) {
	if err := f.check(cohort); err != nil {
		return notify.Message{}, time.Time{}, false, err
	}
	f.override = override
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	if len(f.events) == 0 {
		return notify.Message{}, day, false, nil
	}
	return notify.Message{Title: "Monday", Lines: []string{"09:00–11:00 · Go · M. Martin · B204"}}, day, true, nil
}

func (f *fakeEngine) Now() time.Time           { return f.now }
func (f *fakeEngine) Location() *time.Location { return time.UTC }

func newTestServer(cfg *config.Config) (*Server, *fakeEngine) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	eng := &fakeEngine{
		now: now,
		events: []model.Event{
			{ID: "a", Title: "Go, M. Martin", Location: "B204", Start: now.Add(2 * time.Hour), End: now.Add(4 * time.Hour)},
			{ID: "b", Title: "SQL", Location: "—", Start: now.AddDate(0, 0, 10), End: now.AddDate(0, 0, 10).Add(time.Hour)},
		},
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	schedules := func() []scheduler.Entry {
		return []scheduler.Entry{{Name: "reminder-tick", Spec: "@every 30s", Next: now.Add(30 * time.Second)}}
	}
	return NewServer(cfg, eng, schedules), eng
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCohorts(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := do(t, s, http.MethodGet, "/api/cohorts")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[cohortsResponse](t, rec)
	require.Len(t, resp.Cohorts, 1)
	assert.Equal(t, "groupe1", resp.Cohorts[0].Cohort)
	assert.Equal(t, 2, resp.Cohorts[0].Events)
	assert.Equal(t, 3, resp.LedgerKeys)
	assert.Equal(t, "UTC", resp.Timezone)
}

func TestSchedules(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := do(t, s, http.MethodGet, "/api/schedules")
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decode[[]scheduler.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "reminder-tick", entries[0].Name)
}

func TestEvents(t *testing.T) {
	s, _ := newTestServer(nil)

	rec := do(t, s, http.MethodGet, "/api/events?cohort=groupe1")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[eventsResponse](t, rec)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Go", resp.Events[0].Course)
	assert.Equal(t, "M. Martin", resp.Events[0].Instructor)

	rec = do(t, s, http.MethodGet, "/api/events?cohort=groupe1&days=14")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[eventsResponse](t, rec).Events, 2)
}

func TestEventsErrors(t *testing.T) {
	s, _ := newTestServer(nil)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/events").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/events?cohort=nope").Code)
}

func TestNext(t *testing.T) {
	s, eng := newTestServer(nil)
	rec := do(t, s, http.MethodGet, "/api/next?cohort=groupe1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a", decode[eventDTO](t, rec).ID)

	eng.events = nil
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/next?cohort=groupe1").Code)
}

func TestRefresh(t *testing.T) {
	s, eng := newTestServer(nil)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/refresh").Code)

	rec := do(t, s, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[refreshResponse](t, rec).OK)

	rec = do(t, s, http.MethodPost, "/api/refresh?cohort=groupe1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"", "groupe1"}, eng.refreshed)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/refresh?cohort=nope").Code)

	eng.refreshErr = errors.New("groupe1: source unreachable")
	rec = do(t, s, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[refreshResponse](t, rec)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "source unreachable")
	assert.Len(t, resp.Status, 1)
}

func TestDigestPreview(t *testing.T) {
	s, eng := newTestServer(nil)

	rec := do(t, s, http.MethodPost, "/api/digest?cohort=groupe1&date=2026-10-16")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[digestResponse](t, rec)
	assert.False(t, resp.Empty)
	assert.Equal(t, "Monday", resp.Title)
	assert.Len(t, resp.Lines, 1)
	require.NotNil(t, eng.override)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), *eng.override)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/digest?cohort=groupe1&date=16/10").Code)

	eng.events = nil
	rec = do(t, s, http.MethodPost, "/api/digest?cohort=groupe1")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[digestResponse](t, rec)
	assert.True(t, resp.Empty)
	assert.Empty(t, resp.Lines)
	assert.Nil(t, eng.override)
}

type staticSource map[string][]model.Component

func (s staticSource) Fetch(_ context.Context, src ics.Source) ([]model.Component, error) {
	return s[src.ID], nil
}

func TestDigestPreviewDateIsThePreviewedDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	class := time.Date(2026, 10, 19, 9, 0, 0, 0, loc)
	eng := engine.New(engine.Options{
		Source: staticSource{"groupe1": {
			{Kind: "VEVENT", UID: "go", Summary: "Go, M. Martin", Location: "B204", Start: class, End: class.Add(2 * time.Hour)},
		}},
		Sources:  []ics.Source{{ID: "groupe1", URL: "https://example.com/g1.ics"}},
		Location: loc,
		Now:      func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, loc) },
	})
	require.NoError(t, eng.Startup(context.Background()))
	s := NewServer(config.DefaultConfig(), eng, nil)

	for _, date := range []string{"2026-10-19", "2026-10-17"} {
		rec := do(t, s, http.MethodPost, "/api/digest?cohort=groupe1&date="+date)
		require.Equal(t, http.StatusOK, rec.Code, date)
		resp := decode[digestResponse](t, rec)
		assert.True(t, resp.Day.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, loc)), date)
		assert.Equal(t, []string{"09:00–11:00 · Go · M. Martin · B204"}, resp.Lines, date)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s, _ := newTestServer(cfg)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/cohorts").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/cohorts", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/cohorts", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseIntDefault(t *testing.T) {
	assert.Equal(t, 7, parseIntDefault("", 7))
	assert.Equal(t, 7, parseIntDefault("x", 7))
	assert.Equal(t, 3, parseIntDefault("3", 7))
}
