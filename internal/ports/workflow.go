package ports

import (
	"context"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

type WorkflowState struct {
	JobID    string           `json:"jobId"`
	Stage    string           `json:"stage"`
	Status   domain.JobStatus `json:"status"`
	Progress float64          `json:"progress"`
}

// WorkflowService porte l'état externe de chaque job (exécution, MES aval).
type WorkflowService interface {
	Advance(ctx context.Context, jobID string, scheduleID string) (WorkflowState, error)
	State(ctx context.Context, jobID string) (WorkflowState, error)
}
