package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/httpapi"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memorybus"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/sqlite"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/workflow"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/buildinfo"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/config"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/logging"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/scenario"
)

func main() {
	configPath := flag.String("config", "", "Fichier de configuration (défaut: ./config/vulcan.yaml ou ./vulcan.yaml)")
	addr := flag.String("addr", "", "Adresse d'écoute (surcharge server.addr)")
	dbPath := flag.String("db", "", "Chemin SQLite (surcharge database.path)")
	seed := flag.String("scenario", "", "Scénario YAML dont les machines et opérateurs sont importés au démarrage")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(cfg.Logging, os.Stdout, "vulcan-server")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid logging configuration")
	}
	log.Logger = logger

	logger.Info().Interface("build", buildinfo.Current()).Str("db", cfg.Database.Path).Msg("starting")

	rules, err := cfg.BusinessRules()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid business rules")
	}

	ctx := context.Background()
	db, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open db")
	}
	defer func() { _ = db.Close() }()

	jobsRepo := sqlite.NewJobsRepository(db.SQL)
	machinesRepo := sqlite.NewMachinesRepository(db.SQL)
	operatorsRepo := sqlite.NewOperatorsRepository(db.SQL)
	schedulesRepo := sqlite.NewSchedulesRepository(db.SQL)

	if *seed != "" {
		if err := importResources(ctx, *seed, machinesRepo, operatorsRepo); err != nil {
			logger.Fatal().Err(err).Str("scenario", *seed).Msg("failed to import resources")
		}
		logger.Info().Str("scenario", *seed).Msg("resources imported")
	}

	bus := memorybus.New(logger)
	defer bus.Close()

	scheduling := app.NewSchedulingService(app.SchedulingDeps{
		Jobs:      jobsRepo,
		Machines:  machinesRepo,
		Operators: operatorsRepo,
		Schedules: schedulesRepo,
		Events:    bus,
		Workflow:  workflow.New(jobsRepo, logger),
		Engine:    engine.New(engine.NewSearchSolver(logger), cfg.Solver, logger),
		Allocator: allocation.NewAllocator(machinesRepo, operatorsRepo, rules.Calendar, cfg.Allocation, logger),
		Rules:     rules,
		Limiter:   app.NewSolveLimiter(cfg.Scheduling.MaxConcurrentSolves),
	}, logger)
	jobs := app.NewJobService(jobsRepo, bus)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Clôture les plannings dont tous les jobs sont terminés.
	tracker := app.NewCompletionTracker(logger, bus, scheduling)
	go tracker.Run(shutdownCtx)

	watcher := app.NewDueDateWatcher(logger, jobsRepo, bus)
	watcher.TickInterval = cfg.Scheduling.DueCheckInterval
	watcher.Lookahead = cfg.Scheduling.DueSoonLookahead
	go watcher.Run(shutdownCtx)

	srv := httpapi.NewServer(logger, scheduling, jobs, bus, cfg.Server.WriteTimeout)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server crashed")
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	logger.Info().Msg("bye")
}

func importResources(ctx context.Context, path string, machines *sqlite.MachinesRepository, operators *sqlite.OperatorsRepository) error {
	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}
	for _, m := range sc.MachineList() {
		if err := machines.Save(ctx, m); err != nil {
			return err
		}
	}
	ops, err := sc.OperatorList()
	if err != nil {
		return err
	}
	for _, o := range ops {
		if err := operators.Save(ctx, o); err != nil {
			return err
		}
	}
	return nil
}
