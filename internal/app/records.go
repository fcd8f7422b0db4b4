package app

import (
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

// OptimizationParams surcharge, pour une requête, la configuration du moteur.
// Les valeurs nulles gardent la configuration par défaut.
type OptimizationParams struct {
	TimeBudget      time.Duration `json:"timeBudget,omitempty"`
	Workers         int           `json:"workers,omitempty"`
	Seed            int64         `json:"seed,omitempty"`
	Phase2Tolerance *float64      `json:"phase2Tolerance,omitempty"`
	SkipPhase2      bool          `json:"skipPhase2,omitempty"`
}

// ConstraintOverrides remplace les règles configurées pour une requête.
type ConstraintOverrides struct {
	WIPZones          []domain.WIPZone              `json:"wipZones,omitempty"`
	CriticalSequences []domain.CriticalSequenceRule `json:"criticalSequences,omitempty"`
}

type SchedulingRequest struct {
	Name               string               `json:"name,omitempty"`
	JobIDs             []string             `json:"jobIds"`
	StartTime          time.Time            `json:"startTime"`
	EndTime            time.Time            `json:"endTime"`
	OptimizationParams OptimizationParams   `json:"optimizationParams"`
	Constraints        *ConstraintOverrides `json:"constraints,omitempty"`
	CreatedBy          string               `json:"createdBy,omitempty"`
}

type OptimizationResult struct {
	Status        engine.Status `json:"status"`
	Objective     float64       `json:"objective"`
	Bound         float64       `json:"bound"`
	OperatorCost  float64       `json:"operatorCost"`
	Phase2Applied bool          `json:"phase2Applied"`
	Fallback      bool          `json:"fallback"`
	SolveTime     time.Duration `json:"solveTime"`
	Message       string        `json:"message,omitempty"`
}

type ScheduleMetrics struct {
	AssignmentCount            int           `json:"assignmentCount"`
	MakespanMinutes            int           `json:"makespanMinutes"`
	TotalTardinessMinutes      int           `json:"totalTardinessMinutes"`
	AverageMachineUtilization  float64       `json:"averageMachineUtilization"`
	AverageOperatorUtilization float64       `json:"averageOperatorUtilization"`
	SolverStatus               engine.Status `json:"solverStatus,omitempty"`
	SolveTime                  time.Duration `json:"solveTime"`
	ViolationCount             int           `json:"violationCount"`

	machineUtilization map[string]float64
	lateJobs           []lateJob
}

type lateJob struct {
	number string
	late   domain.Duration
}

type SchedulingResult struct {
	Schedule           *domain.Schedule   `json:"schedule"`
	OptimizationResult OptimizationResult `json:"optimizationResult"`
	Violations         []string           `json:"violations"`
	Metrics            ScheduleMetrics    `json:"metrics"`
	Recommendations    []string           `json:"recommendations"`
}

// ScheduleChanges décrit une modification manuelle d'un planning DRAFT.
type ScheduleChanges struct {
	Name          *string             `json:"name,omitempty"`
	Upsert        []domain.Assignment `json:"upsert,omitempty"`
	RemoveTaskIDs []string            `json:"remove,omitempty"`
}

func (c ScheduleChanges) empty() bool {
	return c.Name == nil && len(c.Upsert) == 0 && len(c.RemoveTaskIDs) == 0
}

type JobExecution struct {
	JobID string               `json:"jobId"`
	State *ports.WorkflowState `json:"state,omitempty"`
	Error string               `json:"error,omitempty"`
}

type ExecutionResult struct {
	Schedule *domain.Schedule `json:"schedule"`
	Jobs     []JobExecution   `json:"jobs"`
}

type JobProgress struct {
	JobID     string           `json:"jobId"`
	JobNumber string           `json:"jobNumber"`
	Status    domain.JobStatus `json:"status"`
	Stage     string           `json:"stage,omitempty"`
	Progress  float64          `json:"progress"`
}

type ScheduleStatusReport struct {
	ScheduleID string                `json:"scheduleId"`
	Status     domain.ScheduleStatus `json:"status"`
	Version    int                   `json:"version"`
	Jobs       []JobProgress         `json:"jobs"`
	Progress   float64               `json:"progress"`
}

type RescheduleResult struct {
	JobID       string                          `json:"jobId"`
	ScheduleID  string                          `json:"scheduleId,omitempty"`
	Allocations []allocation.ResourceAllocation `json:"allocations"`
	Violations  []string                        `json:"violations"`
}

type ResourceConflict struct {
	ResourceType string            `json:"resourceType"`
	ResourceID   string            `json:"resourceId"`
	TaskIDs      []string          `json:"taskIds"`
	Window       domain.TimeWindow `json:"window"`
}
