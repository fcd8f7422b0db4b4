// Package workflow est l'adaptateur de référence du service de workflow: il
// fait avancer le statut des jobs dans le dépôt et garde la trace du dernier
// planning qui les a lancés.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

// next donne l'étape suivante d'un job lors de l'exécution d'un planning.
var next = map[domain.JobStatus]domain.JobStatus{
	domain.JobPlanned:  domain.JobReleased,
	domain.JobReleased: domain.JobInProgress,
	domain.JobOnHold:   domain.JobReleased,
}

type Service struct {
	jobs   ports.JobRepository
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	launched map[string]string
}

var _ ports.WorkflowService = (*Service)(nil)

func New(jobs ports.JobRepository, logger zerolog.Logger) *Service {
	return &Service{
		jobs:     jobs,
		logger:   logger.With().Str("component", "workflow").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		launched: map[string]string{},
	}
}

// Advance fait progresser le job d'une étape. Un job déjà en cours reste en
// l'état; un job terminé ou annulé est refusé.
func (s *Service) Advance(ctx context.Context, jobID, scheduleID string) (ports.WorkflowState, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return ports.WorkflowState{}, err
	}
	if job.Status.IsTerminal() {
		return ports.WorkflowState{}, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, job.JobNumber, job.Status)
	}
	if to, ok := next[job.Status]; ok {
		if err := job.TransitionTo(to, s.now()); err != nil {
			return ports.WorkflowState{}, err
		}
		if err := s.jobs.Save(ctx, job); err != nil {
			return ports.WorkflowState{}, err
		}
		s.logger.Info().Str("job", job.JobNumber).Str("status", string(to)).Str("schedule", scheduleID).Msg("job advanced")
	}
	s.mu.Lock()
	s.launched[jobID] = scheduleID
	s.mu.Unlock()
	return s.stateOf(job), nil
}

func (s *Service) State(ctx context.Context, jobID string) (ports.WorkflowState, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return ports.WorkflowState{}, err
	}
	return s.stateOf(job), nil
}

// LaunchedBy renvoie le planning qui a lancé le job, s'il y en a un.
func (s *Service) LaunchedBy(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.launched[jobID]
	return id, ok
}

func (s *Service) stateOf(job *domain.Job) ports.WorkflowState {
	return ports.WorkflowState{
		JobID:    job.ID,
		Stage:    strings.ToLower(string(job.Status)),
		Status:   job.Status,
		Progress: job.Progress(),
	}
}
