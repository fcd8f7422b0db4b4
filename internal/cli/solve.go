package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
)

type solveFlags struct {
	file       string
	timeBudget time.Duration
	seed       int64
	workers    int
	skipPhase2 bool
}

func newSolveCommand(o *options) *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve -f scenario.yaml",
		Short: "Build an optimized schedule for a scenario",
		Long: `Solve loads a scenario, runs the two-phase optimization (on-time delivery
first, then operator cost) and prints the resulting draft schedule with its
violations and recommendations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, o, f)
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "scenario file (YAML)")
	cmd.Flags().DurationVar(&f.timeBudget, "time-budget", 0, "solver time budget (default from config)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "random seed for reproducible runs")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "parallel search workers")
	cmd.Flags().BoolVar(&f.skipPhase2, "skip-phase2", false, "stop after the tardiness/makespan phase")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runSolve(cmd *cobra.Command, o *options, f *solveFlags) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(ctx, f.file, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer ws.Close()

	req := ws.scenario.Request(ws.jobs)
	req.OptimizationParams = app.OptimizationParams{
		TimeBudget: f.timeBudget,
		Workers:    f.workers,
		Seed:       f.seed,
		SkipPhase2: f.skipPhase2,
	}
	res, err := ws.service.CreateOptimizedSchedule(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.jsonOutput {
		return writeJSON(out, res)
	}

	opt := res.OptimizationResult
	writeTitle(out, "Schedule %q: %s in %s", res.Schedule.Name, opt.Status, elapsed(opt.SolveTime))
	m := res.Metrics
	fmt.Fprintf(out, "makespan %d min, tardiness %d min, operator cost %.2f, machine utilization %.0f%%\n",
		m.MakespanMinutes, m.TotalTardinessMinutes, opt.OperatorCost, m.AverageMachineUtilization*100)
	if opt.Fallback {
		fmt.Fprintln(out, warnStyle.Render("solver found no schedule, allocated job by job"))
	}
	if rows := assignmentRows(res.Schedule, ws.jobs); len(rows) > 0 {
		renderTable(out, []string{"JOB", "TASK", "MACHINE", "OPERATORS", "START", "END", "SETUP"}, rows)
	}
	writeList(out, "Violations", res.Violations, "no violations")
	if len(res.Recommendations) > 0 {
		writeTitle(out, "Recommendations")
		for _, r := range res.Recommendations {
			fmt.Fprintln(out, "  - "+r)
		}
	}
	return nil
}
