// Package memstore implémente les dépôts en mémoire (CLI hors ligne, tests).
// Les valeurs sont copiées à l'entrée et à la sortie.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewJobStore(jobs ...*domain.Job) *JobStore {
	s := &JobStore{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j.Clone()
	}
	return s
}

func (s *JobStore) Save(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if id != job.ID && j.JobNumber == job.JobNumber {
			return ports.ErrConflict
		}
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *JobStore) GetByNumber(_ context.Context, jobNumber string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.JobNumber == jobNumber {
			return j.Clone(), nil
		}
	}
	return nil, ports.ErrNotFound
}

func (s *JobStore) ListByStatus(_ context.Context, statuses []domain.JobStatus) ([]*domain.Job, error) {
	want := map[domain.JobStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	return s.list(func(j *domain.Job) bool { return len(want) == 0 || want[j.Status] }), nil
}

func (s *JobStore) ListDueBefore(_ context.Context, t time.Time) ([]*domain.Job, error) {
	return s.list(func(j *domain.Job) bool {
		return j.IsActive() && j.DueDate != nil && j.DueDate.Before(t)
	}), nil
}

func (s *JobStore) list(keep func(*domain.Job) bool) []*domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Job{}
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JobNumber < out[b].JobNumber })
	return out
}

type MachineStore struct {
	mu       sync.RWMutex
	machines map[string]domain.Machine
}

func NewMachineStore(machines ...domain.Machine) *MachineStore {
	s := &MachineStore{machines: make(map[string]domain.Machine)}
	for _, m := range machines {
		s.machines[m.ID] = m
	}
	return s
}

func (s *MachineStore) Save(_ context.Context, m domain.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Capabilities = append([]string(nil), m.Capabilities...)
	s.machines[m.ID] = m
	return nil
}

func (s *MachineStore) Get(_ context.Context, id string) (domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	if !ok {
		return domain.Machine{}, ports.ErrNotFound
	}
	return m, nil
}

func (s *MachineStore) List(_ context.Context) ([]domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MachineStore) ListByCapability(ctx context.Context, taskType string) ([]domain.Machine, error) {
	all, _ := s.List(ctx)
	out := []domain.Machine{}
	for _, m := range all {
		if m.CanPerform(taskType) {
			out = append(out, m)
		}
	}
	return out, nil
}

type OperatorStore struct {
	mu        sync.RWMutex
	operators map[string]domain.Operator
}

func NewOperatorStore(operators ...domain.Operator) *OperatorStore {
	s := &OperatorStore{operators: make(map[string]domain.Operator)}
	for _, o := range operators {
		s.operators[o.ID] = o
	}
	return s
}

func (s *OperatorStore) Save(_ context.Context, o domain.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.Skills = append([]domain.SkillProficiency(nil), o.Skills...)
	s.operators[o.ID] = o
	return nil
}

func (s *OperatorStore) Get(_ context.Context, id string) (domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.operators[id]
	if !ok {
		return domain.Operator{}, ports.ErrNotFound
	}
	return o, nil
}

func (s *OperatorStore) List(_ context.Context) ([]domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Operator, 0, len(s.operators))
	for _, o := range s.operators {
		out = append(out, o)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *OperatorStore) ListBySkill(ctx context.Context, skillType string, minLevel int) ([]domain.Operator, error) {
	all, _ := s.List(ctx)
	now := time.Now()
	out := []domain.Operator{}
	for _, o := range all {
		if o.SkillLevel(skillType, now) >= minLevel {
			out = append(out, o)
		}
	}
	return out, nil
}

type ScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]*domain.Schedule
}

func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{schedules: make(map[string]*domain.Schedule)}
}

func (s *ScheduleStore) Create(_ context.Context, sc *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sc.ID]; exists {
		return ports.ErrConflict
	}
	s.schedules[sc.ID] = sc.Clone()
	return nil
}

func (s *ScheduleStore) Get(_ context.Context, id string) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return sc.Clone(), nil
}

// Update incrémente la version si expectedVersion correspond.
func (s *ScheduleStore) Update(_ context.Context, sc *domain.Schedule, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedules[sc.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ports.ErrConflict
	}
	sc.Version = expectedVersion + 1
	s.schedules[sc.ID] = sc.Clone()
	return nil
}

func (s *ScheduleStore) ListByStatus(_ context.Context, status domain.ScheduleStatus) ([]*domain.Schedule, error) {
	return s.list(func(sc *domain.Schedule) bool { return sc.Status == status }), nil
}

func (s *ScheduleStore) ListByJob(_ context.Context, jobID string) ([]*domain.Schedule, error) {
	return s.list(func(sc *domain.Schedule) bool { return sc.HasJob(jobID) }), nil
}

func (s *ScheduleStore) ListByCreator(_ context.Context, createdBy string) ([]*domain.Schedule, error) {
	return s.list(func(sc *domain.Schedule) bool { return sc.CreatedBy == createdBy }), nil
}

func (s *ScheduleStore) list(keep func(*domain.Schedule) bool) []*domain.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Schedule{}
	for _, sc := range s.schedules {
		if keep(sc) {
			out = append(out, sc.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

var (
	_ ports.JobRepository      = (*JobStore)(nil)
	_ ports.MachineRepository  = (*MachineStore)(nil)
	_ ports.OperatorRepository = (*OperatorStore)(nil)
	_ ports.ScheduleRepository = (*ScheduleStore)(nil)
)
