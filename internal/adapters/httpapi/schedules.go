package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/httpjson"
)

type SchedulesHandler struct {
	scheduling *app.SchedulingService
}

func NewSchedulesHandler(scheduling *app.SchedulingService) *SchedulesHandler {
	return &SchedulesHandler{scheduling: scheduling}
}

func (h *SchedulesHandler) Routes(r chi.Router) {
	r.Route("/schedules", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Patch("/{id}", h.update)
		r.Get("/{id}/violations", h.violations)
		r.Get("/{id}/status", h.status)
		r.Get("/{id}/conflicts", h.conflicts)
		r.Post("/{id}/publish", h.publish)
		r.Post("/{id}/execute", h.execute)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/complete", h.complete)
	})
}

func (h *SchedulesHandler) create(w http.ResponseWriter, r *http.Request) {
	var req app.SchedulingRequest
	if err := httpjson.Decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := h.scheduling.CreateOptimizedSchedule(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, res)
}

func (h *SchedulesHandler) list(w http.ResponseWriter, r *http.Request) {
	status := domain.ScheduleStatus(r.URL.Query().Get("status"))
	out, err := h.scheduling.ListSchedules(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, out)
}

func (h *SchedulesHandler) get(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scheduling.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, sc)
}

func (h *SchedulesHandler) update(w http.ResponseWriter, r *http.Request) {
	var changes app.ScheduleChanges
	if err := httpjson.Decode(r, &changes); err != nil {
		badRequest(w, err)
		return
	}
	res, err := h.scheduling.UpdateSchedule(r.Context(), chi.URLParam(r, "id"), changes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

func (h *SchedulesHandler) violations(w http.ResponseWriter, r *http.Request) {
	out, err := h.scheduling.ValidateSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"violations": out, "valid": len(out) == 0})
}

func (h *SchedulesHandler) status(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduling.GetScheduleStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, report)
}

// conflicts accepte ?from=&to= en RFC 3339; sans bornes, tout l'horizon.
func (h *SchedulesHandler) conflicts(w http.ResponseWriter, r *http.Request) {
	var window domain.TimeWindow
	q := r.URL.Query()
	for key, dst := range map[string]*time.Time{"from": &window.Start, "to": &window.End} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(w, err)
				return
			}
			*dst = t
		}
	}
	out, err := h.scheduling.GetResourceConflicts(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, out)
}

func (h *SchedulesHandler) publish(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.scheduling.PublishSchedule)
}

func (h *SchedulesHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.scheduling.CancelSchedule)
}

func (h *SchedulesHandler) complete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.scheduling.CompleteSchedule)
}

func (h *SchedulesHandler) execute(w http.ResponseWriter, r *http.Request) {
	res, err := h.scheduling.ExecuteSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

func (h *SchedulesHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*domain.Schedule, error)) {
	sc, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, sc)
}
