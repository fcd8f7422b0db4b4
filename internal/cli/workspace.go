package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memorybus"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memstore"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/workflow"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/config"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/scenario"
)

// workspace est un atelier en mémoire chargé depuis un scénario.
type workspace struct {
	scenario  *scenario.Scenario
	jobs      []*domain.Job
	machines  []domain.Machine
	operators []domain.Operator
	rules     domain.BusinessRules
	bus       *memorybus.Bus
	service   *app.SchedulingService
}

func openWorkspace(ctx context.Context, path string, cfg *config.Config, logger zerolog.Logger) (*workspace, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	base, err := cfg.BusinessRules()
	if err != nil {
		return nil, err
	}
	rules, err := sc.BusinessRules(base)
	if err != nil {
		return nil, fmt.Errorf("scenario rules: %w", err)
	}
	now := sc.Horizon.Start
	jobs, err := sc.JobList(now)
	if err != nil {
		return nil, err
	}
	operators, err := sc.OperatorList()
	if err != nil {
		return nil, err
	}
	w := &workspace{
		scenario:  sc,
		jobs:      jobs,
		machines:  sc.MachineList(),
		operators: operators,
		rules:     rules,
		bus:       memorybus.New(logger),
	}

	jobStore := memstore.NewJobStore(jobs...)
	machineStore := memstore.NewMachineStore(w.machines...)
	operatorStore := memstore.NewOperatorStore(operators...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.service = app.NewSchedulingService(app.SchedulingDeps{
		Jobs:      jobStore,
		Machines:  machineStore,
		Operators: operatorStore,
		Schedules: memstore.NewScheduleStore(),
		Events:    w.bus,
		Workflow:  workflow.New(jobStore, logger),
		Engine:    engine.New(engine.NewSearchSolver(logger), cfg.Solver, logger),
		Allocator: allocation.NewAllocator(machineStore, operatorStore, rules.Calendar, cfg.Allocation, logger),
		Rules:     rules,
		Limiter:   app.NewSolveLimiter(1),
		Now:       func() time.Time { return now },
	}, logger)
	return w, nil
}

func (w *workspace) Close() { w.bus.Close() }
