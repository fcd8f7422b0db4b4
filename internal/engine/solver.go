package engine

import (
	"context"
	"time"
)

type Status string

const (
	StatusOptimal      Status = "OPTIMAL"
	StatusFeasible     Status = "FEASIBLE"
	StatusInfeasible   Status = "INFEASIBLE"
	StatusUnknown      Status = "UNKNOWN"
	StatusModelInvalid Status = "MODEL_INVALID"
)

// HasSolution: OPTIMAL ou FEASIBLE.
func (s Status) HasSolution() bool { return s == StatusOptimal || s == StatusFeasible }

type Objective int

const (
	// MinimizeTardinessMakespan: 2 x retard total + makespan.
	MinimizeTardinessMakespan Objective = iota + 1
	// MinimizeOperatorCost: somme coût/minute x minutes mobilisées.
	MinimizeOperatorCost
)

func (o Objective) String() string {
	switch o {
	case MinimizeTardinessMakespan:
		return "tardiness_makespan"
	case MinimizeOperatorCost:
		return "operator_cost"
	default:
		return "unknown"
	}
}

type SolveParams struct {
	TimeBudget time.Duration
	Workers    int
	Seed       int64
	// MaxIterations borne le nombre de décodages par worker (0: budget seul).
	MaxIterations int
	// Phase1Cap, si non nil, plafonne l'objectif de phase 1 de toute solution.
	Phase1Cap *float64
	WarmStart *Solution
}

// TaskAssignment est la valeur des variables d'une tâche.
type TaskAssignment struct {
	TaskID      string   `json:"taskId"`
	JobID       string   `json:"jobId"`
	IntervalID  string   `json:"intervalId"`
	MachineID   string   `json:"machineId"`
	OptionIdx   int      `json:"option"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Setup       int      `json:"setup"`
	Attended    bool     `json:"attended"`
	OperatorIDs []string `json:"operatorIds"`
}

type Solution struct {
	Status       Status           `json:"status"`
	Objective    float64          `json:"objective"`
	Bound        float64          `json:"bound"`
	Makespan     int              `json:"makespan"`
	Tardiness    int              `json:"tardiness"`
	OperatorCost float64          `json:"operatorCost"`
	Assignments  []TaskAssignment `json:"assignments"`
	Iterations   int              `json:"iterations"`
	WallTime     time.Duration    `json:"wallTime"`
	Reason       string           `json:"reason,omitempty"`
}

// Phase1Objective recalcule l'objectif de phase 1 de la solution.
func (s *Solution) Phase1Objective() float64 { return Phase1Objective(s.Tardiness, s.Makespan) }

// Solver est le point d'extension du moteur: résoudre un modèle pour un
// objectif, dans un budget de temps.
type Solver interface {
	Solve(ctx context.Context, m *Model, obj Objective, params SolveParams) (*Solution, error)
}
