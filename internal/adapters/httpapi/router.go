package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

type Server struct {
	logger     zerolog.Logger
	scheduling *app.SchedulingService
	jobs       *app.JobService
	bus        ports.EventBus
	// requestTimeout couvre aussi la résolution synchrone d'un planning.
	requestTimeout time.Duration
}

func NewServer(logger zerolog.Logger, scheduling *app.SchedulingService, jobs *app.JobService, bus ports.EventBus, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Server{logger: logger, scheduling: scheduling, jobs: jobs, bus: bus, requestTimeout: requestTimeout}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)
		r.Get("/openapi.json", s.handleOpenAPI)
		if s.bus != nil {
			r.Get("/events", s.handleEvents)
			r.Get("/events/ws", s.handleEventStream)
		}

		if s.scheduling != nil {
			r.Get("/solver", s.handleGetSolver)
			r.Put("/solver", s.handlePutSolver)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))
			if s.scheduling != nil {
				NewSchedulesHandler(s.scheduling).Routes(r)
			}
			if s.jobs != nil || s.scheduling != nil {
				NewJobsHandler(s.jobs, s.scheduling).Routes(r)
			}
		})
	})

	return r
}
