package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coursebot/internal/config"
	"coursebot/internal/engine"
	appLog "coursebot/internal/log"
	"coursebot/internal/model"
	"coursebot/internal/notify"
	"coursebot/internal/refresh"
	"coursebot/internal/scheduler"
	"coursebot/internal/store"
)

// Engine is the part of the engine exposed over HTTP.
type Engine interface {
	Status() []refresh.Status
	LedgerSize() int
	Upcoming(cohort string, d time.Duration) ([]model.Event, error)
	NextEvent(cohort string) (model.Event, bool, error)
	RefreshCohort(ctx context.Context, cohort string) error
	DigestPreview(cohort string, override *time.Time) (notify.Message, time.Time, bool, error)
	Now() time.Time
	Location() *time.Location
}

var _ Engine = (*engine.Engine)(nil)

// Server provides the HTTP status and query API.
type Server struct {
	cfg       *config.Config
	engine    Engine
	schedules func() []scheduler.Entry
	router    chi.Router
}

// NewServer constructs a new Server. schedules may be nil.
func NewServer(cfg *config.Config, eng Engine, schedules func() []scheduler.Entry) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    eng,
		schedules: schedules,
		router:    chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="coursebot", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.Recoverer)

	// /health is never behind auth.
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(s.basicAuth)
		}
		r.Get("/api/cohorts", s.handleCohorts)
		r.Get("/api/schedules", s.handleSchedules)
		r.Get("/api/events", s.handleEvents)
		r.Get("/api/next", s.handleNext)
		r.Post("/api/refresh", s.handleRefresh)
		r.Post("/api/digest", s.handleDigest)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type cohortsResponse struct {
	Cohorts    []refresh.Status `json:"cohorts"`
	LedgerKeys int              `json:"ledger_keys"`
	Timezone   string           `json:"timezone"`
	Now        time.Time        `json:"now"`
}

func (s *Server) handleCohorts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cohortsResponse{
		Cohorts:    s.engine.Status(),
		LedgerKeys: s.engine.LedgerSize(),
		Timezone:   s.engine.Location().String(),
		Now:        s.engine.Now(),
	})
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	entries := []scheduler.Entry{}
	if s.schedules != nil {
		entries = s.schedules()
	}
	writeJSON(w, http.StatusOK, entries)
}

// eventDTO is a JSON-friendly view of an event with its derived fields.
type eventDTO struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Course      string    `json:"course"`
	Instructor  string    `json:"instructor"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func toDTO(ev model.Event) eventDTO {
	return eventDTO{
		ID:          ev.ID,
		Title:       ev.Title,
		Course:      ev.Course(),
		Instructor:  ev.Instructor(),
		Location:    ev.Location,
		Description: ev.Description,
		AllDay:      ev.AllDay,
		Start:       ev.Start,
		End:         ev.End,
	}
}

type eventsResponse struct {
	Cohort   string     `json:"cohort"`
	From     time.Time  `json:"from"`
	To       time.Time  `json:"to"`
	Events   []eventDTO `json:"events"`
	Timezone string     `json:"timezone"`
}

// handleEvents returns the cached events of a cohort.
//
// GET /api/events?cohort=groupe1&days=7
//   - cohort: required
//   - days:   how many days ahead (default 7)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cohort := q.Get("cohort")
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}

	from := s.engine.Now()
	to := from.AddDate(0, 0, days)
	events, err := s.engine.Upcoming(cohort, to.Sub(from))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, toDTO(ev))
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Cohort:   cohort,
		From:     from,
		To:       to,
		Events:   dtos,
		Timezone: s.engine.Location().String(),
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	ev, ok, err := s.engine.NextEvent(r.URL.Query().Get("cohort"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no upcoming event")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(ev))
}

type refreshResponse struct {
	OK     bool             `json:"ok"`
	Error  string           `json:"error,omitempty"`
	Status []refresh.Status `json:"status"`
}

// handleRefresh reloads one cohort (?cohort=) or all of them.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cohort := r.URL.Query().Get("cohort")
	err := s.engine.RefreshCohort(r.Context(), cohort)
	if errors.Is(err, store.ErrUnknownCohort) {
		writeEngineError(w, err)
		return
	}

	resp := refreshResponse{OK: err == nil, Status: s.engine.Status()}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

type digestResponse struct {
	Cohort string    `json:"cohort"`
	Day    time.Time `json:"day"`
	Empty  bool      `json:"empty"`
	Title  string    `json:"title,omitempty"`
	Lines  []string  `json:"lines"`
	Text   string    `json:"text,omitempty"`
}

// handleDigest renders the on-demand digest of a cohort without sending it.
//
// POST /api/digest?cohort=groupe1&date=2026-10-16
//   - date: optional day to preview (YYYY-MM-DD), a weekend date moves to
//     Monday; without it the digest covers the next weekday
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cohort := q.Get("cohort")

	var override *time.Time
	if v := q.Get("date"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, s.engine.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		// The digest covers the day after the override.
		d = d.AddDate(0, 0, -1)
		override = &d
	}

	msg, day, ok, err := s.engine.DigestPreview(cohort, override)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := digestResponse{Cohort: cohort, Day: day, Empty: !ok, Lines: []string{}}
	if ok {
		resp.Title = msg.Title
		resp.Lines = msg.Lines
		resp.Text = msg.Text()
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoCohort):
		writeError(w, http.StatusBadRequest, "cohort is required")
	case errors.Is(err, store.ErrUnknownCohort):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
