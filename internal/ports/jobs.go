package ports

import (
	"context"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

// JobRepository persiste les jobs avec leurs tâches.
type JobRepository interface {
	Save(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	GetByNumber(ctx context.Context, jobNumber string) (*domain.Job, error)
	ListByStatus(ctx context.Context, statuses []domain.JobStatus) ([]*domain.Job, error)
	// ListDueBefore renvoie les jobs actifs dont l'échéance est avant t.
	ListDueBefore(ctx context.Context, t time.Time) ([]*domain.Job, error)
}

type MachineRepository interface {
	Save(ctx context.Context, m domain.Machine) error
	Get(ctx context.Context, id string) (domain.Machine, error)
	List(ctx context.Context) ([]domain.Machine, error)
	ListByCapability(ctx context.Context, taskType string) ([]domain.Machine, error)
}

type OperatorRepository interface {
	Save(ctx context.Context, o domain.Operator) error
	Get(ctx context.Context, id string) (domain.Operator, error)
	List(ctx context.Context) ([]domain.Operator, error)
	ListBySkill(ctx context.Context, skillType string, minLevel int) ([]domain.Operator, error)
}

// ScheduleRepository applique un contrôle de version optimiste: Update renvoie
// ErrConflict si la version stockée diffère de expectedVersion.
type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.Schedule) error
	Get(ctx context.Context, id string) (*domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule, expectedVersion int) error
	ListByStatus(ctx context.Context, status domain.ScheduleStatus) ([]*domain.Schedule, error)
	ListByJob(ctx context.Context, jobID string) ([]*domain.Schedule, error)
	ListByCreator(ctx context.Context, createdBy string) ([]*domain.Schedule, error)
}
