package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/httpjson"
)

type JobsHandler struct {
	jobs       *app.JobService
	scheduling *app.SchedulingService
}

func NewJobsHandler(jobs *app.JobService, scheduling *app.SchedulingService) *JobsHandler {
	return &JobsHandler{jobs: jobs, scheduling: scheduling}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		if h.jobs != nil {
			r.Post("/", h.create)
			r.Get("/", h.list)
			r.Get("/queue", h.queue)
			r.Get("/{id}", h.get)
			r.Get("/{id}/analysis", h.analysis)
			r.Post("/{id}/hold", h.transition(domain.JobOnHold))
			r.Post("/{id}/release", h.transition(domain.JobReleased))
			r.Post("/{id}/cancel", h.transition(domain.JobCancelled))
		}
		if h.scheduling != nil {
			r.Post("/{id}/reschedule", h.reschedule)
			r.Post("/{id}/tasks/{taskID}/start", h.startTask)
			r.Post("/{id}/tasks/{taskID}/complete", h.completeTask)
		}
	})
}

func (h *JobsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req app.CreateJobRequest
	if err := httpjson.Decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	job, err := h.jobs.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, job)
}

// list accepte ?status=PLANNED,RELEASED.
func (h *JobsHandler) list(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.JobStatus(strings.ToUpper(strings.TrimSpace(st))))
		}
	}
	jobs, err := h.jobs.List(r.Context(), statuses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, jobs)
}

func (h *JobsHandler) queue(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.Queue(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, jobs)
}

func (h *JobsHandler) analysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.jobs.Analyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, a)
}

func (h *JobsHandler) get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, job)
}

func (h *JobsHandler) transition(to domain.JobStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.jobs.Transition(r.Context(), chi.URLParam(r, "id"), to)
		if err != nil {
			writeError(w, r, err)
			return
		}
		httpjson.Write(w, http.StatusOK, job)
	}
}

type rescheduleRequest struct {
	NewStart   time.Time `json:"newStart"`
	ScheduleID string    `json:"scheduleId,omitempty"`
}

func (h *JobsHandler) reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := httpjson.Decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.NewStart.IsZero() {
		badRequest(w, errors.New("newStart is required"))
		return
	}
	res, err := h.scheduling.RescheduleJob(r.Context(), chi.URLParam(r, "id"), req.NewStart, req.ScheduleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

func (h *JobsHandler) startTask(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduling.StartTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, job)
}

func (h *JobsHandler) completeTask(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduling.CompleteTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, job)
}
