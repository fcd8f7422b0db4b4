package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

type Config struct {
	TimeBudget      time.Duration `mapstructure:"time_budget"`
	Phase2Budget    time.Duration `mapstructure:"phase2_budget"`
	Workers         int           `mapstructure:"workers"`
	Seed            int64         `mapstructure:"seed"`
	MaxIterations   int           `mapstructure:"max_iterations"`
	Phase2Tolerance float64       `mapstructure:"phase2_tolerance"`
	SkipPhase2      bool          `mapstructure:"skip_phase2"`
}

func DefaultConfig() Config {
	return Config{TimeBudget: 10 * time.Second, Workers: 4, Phase2Tolerance: 0.05}
}

// Result est le compte rendu des deux phases. Final est la solution retenue:
// celle de la phase 2 si elle a abouti, sinon celle de la phase 1.
type Result struct {
	Status        Status        `json:"status"`
	Phase1        *Solution     `json:"phase1,omitempty"`
	Phase2        *Solution     `json:"phase2,omitempty"`
	Final         *Solution     `json:"-"`
	Phase2Applied bool          `json:"phase2Applied"`
	Objective     float64       `json:"objective"`
	Bound         float64       `json:"bound"`
	OperatorCost  float64       `json:"operatorCost"`
	SolveTime     time.Duration `json:"solveTime"`
	Message       string        `json:"message,omitempty"`

	model *Model
}

// Engine enchaîne les deux phases sur le même modèle: les identifiants de
// variables sont donc identiques d'une phase à l'autre.
type Engine struct {
	solver Solver
	cfg    Config
	logger zerolog.Logger
}

func New(solver Solver, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Phase2Tolerance < 0 {
		cfg.Phase2Tolerance = 0
	}
	return &Engine{solver: solver, cfg: cfg, logger: logger.With().Str("component", "engine").Logger()}
}

func (e *Engine) Config() Config { return e.cfg }

// WithConfig renvoie un moteur partageant le même solveur avec une autre
// configuration.
func (e *Engine) WithConfig(cfg Config) *Engine {
	if cfg.Phase2Tolerance < 0 {
		cfg.Phase2Tolerance = 0
	}
	return &Engine{solver: e.solver, cfg: cfg, logger: e.logger}
}

// Solve est bloquant et borné par le budget de temps. Un modèle invalide ou
// infaisable n'est pas une erreur: le statut du résultat le porte. Seules les
// défaillances du solveur sont renvoyées en erreur.
func (e *Engine) Solve(ctx context.Context, in Input) (*Result, error) {
	started := time.Now()
	m, err := Build(in)
	if errors.Is(err, ErrModelInvalid) {
		e.logger.Warn().Err(err).Msg("model invalid")
		return &Result{Status: StatusModelInvalid, Message: err.Error(), SolveTime: time.Since(started)}, nil
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("model", m.String()).Msg("solving")

	params := SolveParams{TimeBudget: e.cfg.TimeBudget, Workers: e.cfg.Workers, Seed: e.cfg.Seed, MaxIterations: e.cfg.MaxIterations}
	p1, err := e.solver.Solve(ctx, m, MinimizeTardinessMakespan, params)
	if err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}
	res := &Result{Status: p1.Status, Phase1: p1, Bound: p1.Bound, model: m}
	if !p1.Status.HasSolution() {
		res.Message = p1.Reason
		res.SolveTime = time.Since(started)
		e.logger.Warn().Str("status", string(p1.Status)).Str("reason", p1.Reason).Msg("phase 1 found no schedule")
		return res, nil
	}
	res.Final, res.Objective, res.OperatorCost = p1, p1.Objective, p1.OperatorCost

	if !e.cfg.SkipPhase2 {
		limit := p1.Objective * (1 + e.cfg.Phase2Tolerance)
		params.Phase1Cap = &limit
		params.WarmStart = p1
		if e.cfg.Phase2Budget > 0 {
			params.TimeBudget = e.cfg.Phase2Budget
		}
		p2, err := e.solver.Solve(ctx, m, MinimizeOperatorCost, params)
		switch {
		case err != nil:
			e.logger.Warn().Err(err).Msg("phase 2 failed, keeping phase 1 schedule")
		case !p2.Status.HasSolution():
			e.logger.Warn().Str("status", string(p2.Status)).Msg("phase 2 found no schedule, keeping phase 1 schedule")
			res.Phase2 = p2
		default:
			res.Phase2, res.Final, res.Phase2Applied = p2, p2, true
			res.OperatorCost = p2.OperatorCost
		}
	}
	res.SolveTime = time.Since(started)
	e.logger.Info().Str("status", string(res.Status)).Float64("objective", res.Objective).
		Float64("operatorCost", res.OperatorCost).Dur("took", res.SolveTime).Msg("solve finished")
	return res, nil
}

type AsyncResult struct {
	Result *Result
	Err    error
}

// SolveAsync lance la résolution dans une goroutine. Le canal (tampon 1)
// reçoit exactement un résultat; un appelant qui abandonne ne bloque pas le
// worker et le résultat tardif est simplement perdu.
func (e *Engine) SolveAsync(ctx context.Context, in Input) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- AsyncResult{Err: fmt.Errorf("solver panic: %v", r)}
			}
		}()
		res, err := e.Solve(ctx, in)
		out <- AsyncResult{Result: res, Err: err}
	}()
	return out
}

// Assignments convertit la solution retenue en affectations datées.
func (r *Result) Assignments() []domain.Assignment {
	if r.Final == nil || r.model == nil {
		return nil
	}
	out := make([]domain.Assignment, 0, len(r.Final.Assignments))
	for _, a := range r.Final.Assignments {
		out = append(out, domain.Assignment{
			TaskID:        a.TaskID,
			JobID:         a.JobID,
			MachineID:     a.MachineID,
			OperatorIDs:   append([]string(nil), a.OperatorIDs...),
			Window:        domain.TimeWindow{Start: r.model.TimeAt(a.Start), End: r.model.TimeAt(a.End)},
			SetupDuration: domain.Duration(a.Setup),
			Attended:      a.Attended,
		})
	}
	return out
}

func (r *Result) Model() *Model { return r.model }
