package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

// StartTask démarre une tâche affectée dans un planning actif. Une tâche READY
// reçoit d'abord son affectation planifiée.
func (s *SchedulingService) StartTask(ctx context.Context, jobID, taskID string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, jobNotFound(jobID, err)
	}
	task, ok := job.Task(taskID)
	if !ok {
		return nil, &ValidationError{Field: "taskId", Reason: fmt.Sprintf("task %s does not belong to job %s", taskID, job.JobNumber)}
	}
	a, ok, err := s.activeAssignment(ctx, jobID, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ValidationError{Field: "taskId", Reason: fmt.Sprintf("task %s is not assigned in an active schedule", taskID)}
	}
	if task.Status == domain.TaskReady {
		if err := task.Schedule(a.Window, a.MachineID, a.OperatorIDs); err != nil {
			return nil, err
		}
	}
	if err := task.Start(s.now()); err != nil {
		return nil, &ValidationError{Field: "taskId", Reason: err.Error()}
	}
	if job.Status == domain.JobReleased {
		if err := job.TransitionTo(domain.JobInProgress, s.now()); err != nil {
			return nil, err
		}
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}
	s.publish(domain.EventTaskStatusChanged, taskID, map[string]any{"jobId": jobID, "status": task.Status})
	return job, nil
}

func (s *SchedulingService) activeAssignment(ctx context.Context, jobID, taskID string) (domain.Assignment, bool, error) {
	scheds, err := s.schedules.ListByJob(ctx, jobID)
	if err != nil {
		return domain.Assignment{}, false, err
	}
	for _, sc := range scheds {
		if sc.Status != domain.ScheduleActive {
			continue
		}
		if a, ok := sc.Assignment(taskID); ok {
			return a, true, nil
		}
	}
	return domain.Assignment{}, false, nil
}

// CompleteTask enregistre la fin d'une tâche. Le job avance et se termine de
// lui-même quand toutes ses tâches actives sont faites.
func (s *SchedulingService) CompleteTask(ctx context.Context, jobID, taskID string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, jobNotFound(jobID, err)
	}
	before := job.Status
	if err := job.CompleteTask(taskID, s.now()); err != nil {
		if errors.Is(err, domain.ErrTaskNotInJob) || errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrInvalidWindow) {
			return nil, &ValidationError{Field: "taskId", Reason: err.Error()}
		}
		return nil, err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}
	s.publish(domain.EventTaskStatusChanged, taskID, map[string]any{"jobId": jobID, "status": domain.TaskCompleted})
	if job.Status != before {
		s.publish(domain.EventJobStatusChanged, jobID, ports.WorkflowState{
			JobID: jobID, Stage: strings.ToLower(string(job.Status)), Status: job.Status, Progress: job.Progress(),
		})
	}
	return job, nil
}

// CompletionTracker écoute les changements de statut des jobs et termine les
// plannings actifs dont tous les jobs sont terminés.
type CompletionTracker struct {
	logger  zerolog.Logger
	bus     ports.EventBus
	service *SchedulingService
	jobs    ports.JobRepository
	scheds  ports.ScheduleRepository
}

func NewCompletionTracker(logger zerolog.Logger, bus ports.EventBus, service *SchedulingService) *CompletionTracker {
	return &CompletionTracker{
		logger:  logger.With().Str("component", "completion").Logger(),
		bus:     bus,
		service: service,
		jobs:    service.jobs,
		scheds:  service.schedules,
	}
}

func (u *CompletionTracker) Run(ctx context.Context) {
	if u == nil || u.bus == nil || u.service == nil {
		return
	}
	ch, cancel := u.bus.Subscribe(domain.EventJobStatusChanged)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			u.logger.Info().Msg("completion tracker stopped")
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			u.handleEvent(ctx, evt)
		}
	}
}

func (u *CompletionTracker) handleEvent(ctx context.Context, evt domain.Event) {
	st, ok := evt.Payload.(ports.WorkflowState)
	if !ok || !st.Status.IsTerminal() {
		return
	}
	scheds, err := u.scheds.ListByJob(ctx, evt.AggregateID)
	if err != nil {
		u.logger.Warn().Err(err).Str("job", evt.AggregateID).Msg("list schedules by job failed")
		return
	}
	for _, sc := range scheds {
		if sc.Status != domain.ScheduleActive {
			continue
		}
		done, err := u.allJobsDone(ctx, sc)
		if err != nil {
			u.logger.Warn().Err(err).Str("schedule", sc.ID).Msg("job lookup failed")
			continue
		}
		if !done {
			continue
		}
		if _, err := u.service.CompleteSchedule(ctx, sc.ID); err != nil {
			u.logger.Warn().Err(err).Str("schedule", sc.ID).Msg("failed to complete schedule")
			continue
		}
		u.logger.Info().Str("schedule", sc.ID).Msg("schedule completed")
	}
}

func (u *CompletionTracker) allJobsDone(ctx context.Context, sc *domain.Schedule) (bool, error) {
	for _, id := range sc.JobIDs {
		j, err := u.jobs.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if !j.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}
