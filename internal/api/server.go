// Package api exposes the scheduling core over HTTP: task CRUD and lifecycle,
// execution history, workspace stats, and cron expression utilities.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cronflow/internal/cronexpr"
	"cronflow/internal/domain"
	"cronflow/internal/engine"
	"cronflow/internal/registry"
	"cronflow/internal/schedule"
	"cronflow/internal/stats"
	"cronflow/internal/store"
)

type Server struct {
	r     *chi.Mux
	reg   *registry.Registry
	eng   *engine.Engine
	stats *stats.Aggregator
}

func NewServer(reg *registry.Registry, eng *engine.Engine, agg *stats.Aggregator) http.Handler {
	return NewServerWithDebug(reg, eng, agg, false)
}

func NewServerWithDebug(reg *registry.Registry, eng *engine.Engine, agg *stats.Aggregator, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, reg: reg, eng: eng, stats: agg}

	r.Get("/health", s.health)

	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Put("/api/tasks/{id}", s.updateTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)
	r.Post("/api/tasks/{id}/pause", s.pauseTask)
	r.Post("/api/tasks/{id}/resume", s.resumeTask)
	r.Post("/api/tasks/{id}/run", s.runTask)
	r.Get("/api/tasks/{id}/executions", s.listExecutions)

	r.Post("/api/events/{name}", s.triggerEvent)

	r.Get("/api/workspaces/{id}/stats", s.workspaceStats)
	r.Get("/api/workspaces/{id}/upcoming", s.workspaceUpcoming)

	r.Post("/api/cron/inspect", s.inspectCron)
	r.Get("/api/cron/next", s.nextCronRuns)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// scheduleReq is the wire form of a schedule. Interval is a Go duration
// string ("90s", "5m"); At is RFC 3339.
type scheduleReq struct {
	Kind     string     `json:"kind"`
	Expr     string     `json:"expr,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
	Interval string     `json:"interval,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Event    string     `json:"event,omitempty"`
}

func (sr scheduleReq) toDomain() (domain.Schedule, error) {
	out := domain.Schedule{
		Kind:     domain.ScheduleKind(sr.Kind),
		Expr:     sr.Expr,
		Timezone: sr.Timezone,
		Event:    sr.Event,
	}
	if sr.Interval != "" {
		d, err := time.ParseDuration(sr.Interval)
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("invalid interval: %w", err)
		}
		out.Interval = d
	}
	if sr.At != nil {
		out.At = *sr.At
	}
	return out, nil
}

type createTaskReq struct {
	WorkspaceID string              `json:"workspace_id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Type        string              `json:"type"`
	Schedule    scheduleReq         `json:"schedule"`
	Payload     map[string]any      `json:"payload"`
	Retry       *domain.RetryPolicy `json:"retry"`
	CreatedBy   string              `json:"created_by"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	sched, err := req.Schedule.toDomain()
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	task, err := s.reg.Create(r.Context(), registry.CreateInput{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Description: req.Description,
		Type:        domain.TaskType(req.Type),
		Schedule:    sched,
		Payload:     req.Payload,
		Retry:       req.Retry,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.reg.List(r.Context(), q.Get("workspace"), registry.ListFilter{
		Type:   domain.TaskType(q.Get("type")),
		Status: domain.TaskStatus(q.Get("status")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.reg.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, task)
}

type updateTaskReq struct {
	Name        *string             `json:"name"`
	Description *string             `json:"description"`
	Type        *string             `json:"type"`
	Schedule    *scheduleReq        `json:"schedule"`
	Payload     *map[string]any     `json:"payload"`
	Retry       *domain.RetryPolicy `json:"retry"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	in := registry.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Payload:     req.Payload,
		Retry:       req.Retry,
	}
	if req.Type != nil {
		tt := domain.TaskType(*req.Type)
		in.Type = &tt
	}
	if req.Schedule != nil {
		sched, err := req.Schedule.toDomain()
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		in.Schedule = &sched
	}

	task, err := s.reg.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.reg.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if !ok {
		http.Error(w, "not found", 404)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.reg.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, task)
}

func (s *Server) resumeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.reg.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, task)
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	exe, err := s.eng.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exe)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", 400)
			return
		}
		limit = n
	}

	id := chi.URLParam(r, "id")
	if _, err := s.reg.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	history, err := s.reg.Executions(r.Context(), id, limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, history)
}

func (s *Server) triggerEvent(w http.ResponseWriter, r *http.Request) {
	fired, err := s.eng.TriggerEvent(r.Context(), r.URL.Query().Get("workspace"), chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"fired": fired})
}

func (s *Server) workspaceStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.stats.Workspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, out)
}

func (s *Server) workspaceUpcoming(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("hours"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h < 0 {
			http.Error(w, "invalid hours", 400)
			return
		}
		window = time.Duration(h) * time.Hour
	}

	runs, err := s.stats.Upcoming(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, runs)
}

type inspectCronReq struct {
	Expr string `json:"expr"`
}

// inspectCron validates an expression and, when valid, returns its next five
// runs and a description in one shot.
func (s *Server) inspectCron(w http.ResponseWriter, r *http.Request) {
	var req inspectCronReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Expr == "" {
		http.Error(w, "expr is required", 400)
		return
	}
	writeJSON(w, 200, cronexpr.Inspect(req.Expr, time.Now()))
}

func (s *Server) nextCronRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expr := q.Get("expr")
	if expr == "" {
		http.Error(w, "expr is required", 400)
		return
	}
	count := 5
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			http.Error(w, "invalid count", 400)
			return
		}
		count = n
	}

	runs, err := cronexpr.NextRuns(expr, time.Now(), count)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, 200, runs)
}

// writeError maps domain errors onto status codes: missing records are 404,
// invalid lifecycle transitions are 409, validation failures are 400.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, registry.ErrNotActive), errors.Is(err, registry.ErrNotPaused):
		http.Error(w, err.Error(), 409)
	case errors.Is(err, registry.ErrNameRequired),
		errors.Is(err, registry.ErrPastOnce),
		errors.Is(err, schedule.ErrUnknownKind),
		errors.Is(err, schedule.ErrBadCron),
		errors.Is(err, schedule.ErrBadTimezone),
		errors.Is(err, schedule.ErrBadInterval),
		errors.Is(err, schedule.ErrMissingOnceAt),
		errors.Is(err, schedule.ErrMissingEvent):
		http.Error(w, err.Error(), 400)
	default:
		http.Error(w, err.Error(), 500)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
