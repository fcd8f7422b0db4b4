package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/buildinfo"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/httpjson"
)

const defaultRequestTimeout = 60 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Solver *app.LimiterStats `json:"solver,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.scheduling != nil {
		st := s.scheduling.Limiter().Stats()
		resp.Solver = &st
	}
	httpjson.Write(w, http.StatusOK, resp)
}

func (s *Server) handleGetSolver(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, s.scheduling.Limiter().Stats())
}

type solverUpdate struct {
	MaxConcurrentSolves int `json:"maxConcurrentSolves"`
}

// handlePutSolver change à chaud le nombre de résolutions simultanées.
func (s *Server) handlePutSolver(w http.ResponseWriter, r *http.Request) {
	var req solverUpdate
	if err := httpjson.Decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.MaxConcurrentSolves < 1 {
		badRequest(w, errors.New("maxConcurrentSolves must be at least 1"))
		return
	}
	l := s.scheduling.Limiter()
	l.SetLimit(req.MaxConcurrentSolves)
	hlog.FromRequest(r).Info().Int("max_concurrent_solves", req.MaxConcurrentSolves).Msg("solver limit updated")
	httpjson.Write(w, http.StatusOK, l.Stats())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, buildinfo.Current())
}

func accessLogFn(r *http.Request, status, size int, duration time.Duration) {
	logger := hlog.FromRequest(r)
	logger.Info().
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("http")
}

var statusByCode = map[string]int{
	"invalid_request":      http.StatusBadRequest,
	"schedule_not_found":   http.StatusNotFound,
	"job_not_found":        http.StatusNotFound,
	"schedule_locked":      http.StatusConflict,
	"invalid_state":        http.StatusConflict,
	"publish_blocked":      http.StatusUnprocessableEntity,
	"resource_unavailable": http.StatusUnprocessableEntity,
	"optimization_failed":  http.StatusInternalServerError,
}

// writeError traduit une erreur applicative en réponse JSON.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := app.ErrorCode(err)
	status, ok := statusByCode[code]
	switch {
	case ok:
	case errors.Is(err, app.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, app.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	default:
		status, code = http.StatusInternalServerError, "internal"
	}

	var details []string
	var pe *app.PublishError
	if errors.As(err, &pe) {
		details = pe.Violations
	}
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	httpjson.WriteCodedError(w, status, code, err.Error(), details)
}

func badRequest(w http.ResponseWriter, err error) {
	httpjson.WriteCodedError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
}
