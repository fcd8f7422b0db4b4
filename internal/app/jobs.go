package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/critical"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

// JobService gère le catalogue des jobs et de leurs tâches.
type JobService struct {
	repo     ports.JobRepository
	bus      ports.EventPublisher
	critical *critical.Manager
	now      func() time.Time
}

func NewJobService(repo ports.JobRepository, bus ports.EventPublisher) *JobService {
	s := &JobService{repo: repo, bus: bus, now: func() time.Time { return time.Now().UTC() }}
	s.critical = critical.NewManager(critical.WithClock(func() time.Time { return s.now() }))
	return s
}

// JobAnalysis résume la criticité d'un job.
type JobAnalysis struct {
	JobID                 string                         `json:"jobId"`
	JobNumber             string                         `json:"jobNumber"`
	CriticalSequences     []critical.Sequence            `json:"criticalSequences"`
	CriticalPathTaskIDs   []string                       `json:"criticalPathTaskIds"`
	CriticalPathMinutes   int                            `json:"criticalPathMinutes"`
	EstimatedMinutes      int                            `json:"estimatedMinutes"`
	ParallelOpportunities []critical.ParallelOpportunity `json:"parallelOpportunities"`
	CriticalityScore      float64                        `json:"criticalityScore"`
}

type CreateTaskRequest struct {
	ID                    string                    `json:"id,omitempty" yaml:"id"`
	Sequence              int                       `json:"sequence" yaml:"sequence"`
	Name                  string                    `json:"name" yaml:"name"`
	TaskType              string                    `json:"taskType" yaml:"type"`
	Predecessors          []int                     `json:"predecessors,omitempty" yaml:"predecessors"`
	MachineOptions        []domain.MachineOption    `json:"machineOptions" yaml:"options"`
	Skills                []domain.SkillRequirement `json:"skills,omitempty" yaml:"skills"`
	RequiredOperatorCount int                       `json:"requiredOperators" yaml:"operators"`
	Critical              bool                      `json:"critical,omitempty" yaml:"critical"`
	CriticalPath          bool                      `json:"criticalPath,omitempty" yaml:"critical_path"`
}

type CreateJobRequest struct {
	ID          string              `json:"id,omitempty" yaml:"id"`
	JobNumber   string              `json:"jobNumber" yaml:"number"`
	Priority    domain.Priority     `json:"priority" yaml:"priority"`
	Quantity    int                 `json:"quantity" yaml:"quantity"`
	DueDate     *time.Time          `json:"dueDate,omitempty" yaml:"due"`
	ReleaseDate *time.Time          `json:"releaseDate,omitempty" yaml:"release"`
	Tasks       []CreateTaskRequest `json:"tasks" yaml:"tasks"`
}

// BuildJob construit un job valide à partir de la requête. Les prédécesseurs
// sont donnés par numéro de séquence dans le job.
func BuildJob(req CreateJobRequest, now time.Time) (*domain.Job, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Priority < 0 || req.Priority > domain.PriorityCritical {
		return nil, &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d", domain.PriorityLow, domain.PriorityCritical)}
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = xid.New().String()
	}
	job, err := domain.NewJob(id, req.JobNumber, req.Priority, req.Quantity, req.DueDate, now)
	if err != nil {
		return nil, &ValidationError{Field: "jobNumber", Reason: err.Error()}
	}
	job.ReleaseDate = req.ReleaseDate

	ids := map[int]string{}
	for _, tr := range req.Tasks {
		tid := strings.TrimSpace(tr.ID)
		if tid == "" {
			tid = fmt.Sprintf("%s-%d", id, tr.Sequence)
		}
		ids[tr.Sequence] = tid
	}
	for _, tr := range req.Tasks {
		if len(tr.MachineOptions) == 0 {
			return nil, &ValidationError{Field: "tasks", Reason: fmt.Sprintf("task %d has no machine option", tr.Sequence)}
		}
		for _, sr := range tr.Skills {
			if _, err := domain.NewSkillRequirement(sr.SkillType, sr.MinimumLevel); err != nil {
				return nil, &ValidationError{Field: "tasks", Reason: fmt.Sprintf("task %d: %v", tr.Sequence, err)}
			}
		}
		t := &domain.Task{
			ID:                    ids[tr.Sequence],
			SequenceInJob:         tr.Sequence,
			Name:                  tr.Name,
			TaskType:              tr.TaskType,
			MachineOptions:        tr.MachineOptions,
			SkillRequirements:     tr.Skills,
			RequiredOperatorCount: tr.RequiredOperatorCount,
			IsCritical:            tr.Critical,
			IsCriticalPath:        tr.CriticalPath,
		}
		for _, seq := range tr.Predecessors {
			pid, ok := ids[seq]
			if !ok {
				return nil, &ValidationError{Field: "tasks", Reason: fmt.Sprintf("task %d references unknown predecessor %d", tr.Sequence, seq)}
			}
			t.PredecessorIDs = append(t.PredecessorIDs, pid)
		}
		if err := job.AddTask(t); err != nil {
			return nil, &ValidationError{Field: "tasks", Reason: err.Error()}
		}
	}
	return job, nil
}

func (s *JobService) Create(ctx context.Context, req CreateJobRequest) (*domain.Job, error) {
	job, err := BuildJob(req, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByNumber(ctx, job.JobNumber); err == nil {
		return nil, &ValidationError{Field: "jobNumber", Reason: "job number " + job.JobNumber + " already exists"}
	} else if !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	s.publishStatus(job)
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, jobNotFound(id, err)
	}
	return job, nil
}

func (s *JobService) List(ctx context.Context, statuses []domain.JobStatus) ([]*domain.Job, error) {
	return s.repo.ListByStatus(ctx, statuses)
}

// Queue renvoie les jobs actifs dans l'ordre de passage des séquences
// critiques: suites critiques d'abord, puis échéance et priorité.
func (s *JobService) Queue(ctx context.Context) ([]*domain.Job, error) {
	jobs, err := s.repo.ListByStatus(ctx, []domain.JobStatus{domain.JobPlanned, domain.JobReleased, domain.JobInProgress, domain.JobOnHold})
	if err != nil {
		return nil, err
	}
	return s.critical.PrioritizeJobSequence(jobs), nil
}

func (s *JobService) Analyze(ctx context.Context, id string) (*JobAnalysis, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return AnalyzeJob(s.critical, job), nil
}

func AnalyzeJob(m *critical.Manager, job *domain.Job) *JobAnalysis {
	a := &JobAnalysis{
		JobID:                 job.ID,
		JobNumber:             job.JobNumber,
		CriticalSequences:     m.IdentifyCriticalSequences(job),
		CriticalPathTaskIDs:   []string{},
		CriticalPathMinutes:   m.CalculateCriticalPathDuration(job).Minutes(),
		EstimatedMinutes:      job.EstimatedDuration().Minutes(),
		ParallelOpportunities: m.SuggestParallelExecutionOpportunities(job),
		CriticalityScore:      m.CalculateScheduleCriticalityScore(job),
	}
	for _, t := range m.FindCriticalPathTasks(job) {
		a.CriticalPathTaskIDs = append(a.CriticalPathTaskIDs, t.ID)
	}
	if a.CriticalSequences == nil {
		a.CriticalSequences = []critical.Sequence{}
	}
	if a.ParallelOpportunities == nil {
		a.ParallelOpportunities = []critical.ParallelOpportunity{}
	}
	return a
}

// Transition applique un changement de statut manuel (mise en attente,
// libération, annulation).
func (s *JobService) Transition(ctx context.Context, id string, to domain.JobStatus) (*domain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.TransitionTo(to, s.now()); err != nil {
		return nil, &ValidationError{Field: "status", Reason: err.Error()}
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	s.publishStatus(job)
	return job, nil
}

func (s *JobService) publishStatus(job *domain.Job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(domain.NewEvent(xid.New().String(), domain.EventJobStatusChanged, job.ID, ports.WorkflowState{
		JobID: job.ID, Stage: strings.ToLower(string(job.Status)), Status: job.Status, Progress: job.Progress(),
	}, s.now()))
}
