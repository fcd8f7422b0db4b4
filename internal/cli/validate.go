package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/validation"
)

var errViolations = errors.New("schedule has violations")

type validationReport struct {
	File       string   `json:"file"`
	Scenario   string   `json:"scenario"`
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations"`
}

func newValidateCommand(o *options) *cobra.Command {
	var (
		patterns []string
		partial  bool
	)
	cmd := &cobra.Command{
		Use:   "validate -f scenario.yaml [-f 'plants/**/*.yaml']",
		Short: "Check the assignments of scenarios against shop rules",
		Long: `Validate checks the assignments listed in each scenario: machine
capabilities, operator skills and counts, business hours, conflicts,
precedence, WIP zones, critical sequences, machine capacity and due dates.
Files may be given as glob patterns (** included). The exit status is 1
when violations are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := findScenarios(patterns)
			if err != nil {
				return err
			}
			var reports []validationReport
			total := 0
			for _, file := range files {
				rep, err := validateScenario(cmd.Context(), o, file, partial)
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				total += len(rep.Violations)
				reports = append(reports, rep)
			}

			out := cmd.OutOrStdout()
			if o.jsonOutput {
				if err := writeJSON(out, reports); err != nil {
					return err
				}
			} else {
				for _, rep := range reports {
					writeTitle(out, "%s (%s)", rep.Scenario, rep.File)
					writeList(out, "Violations", rep.Violations, "schedule is valid")
				}
			}
			if total > 0 {
				return fmt.Errorf("%w: %d", errViolations, total)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&patterns, "file", "f", nil, "scenario file or glob pattern (repeatable)")
	cmd.Flags().BoolVar(&partial, "partial", false, "do not report tasks without an assignment")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// findScenarios développe les motifs; un motif sans correspondance est une
// erreur pour ne pas valider silencieusement un ensemble vide.
func findScenarios(patterns []string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no scenario matches %q", pattern)
		}
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil || !info.Mode().IsRegular() || seen[name] {
				continue
			}
			seen[name] = true
			files = append(files, name)
		}
	}
	return files, nil
}

func validateScenario(ctx context.Context, o *options, file string, partial bool) (validationReport, error) {
	ws, err := openWorkspace(ctx, file, o.cfg, o.logger)
	if err != nil {
		return validationReport{}, err
	}
	defer ws.Close()

	sched, err := ws.scenario.Schedule(ws.jobs, ws.scenario.Horizon.Start)
	if err != nil {
		return validationReport{}, err
	}
	v := validation.New(validation.NewLookup(ws.jobs, ws.machines, ws.operators, ws.rules))
	violations := []string{}
	if !partial {
		violations = append(violations, v.CheckUnscheduled(sched)...)
	}
	violations = append(violations, v.ValidateAll(sched)...)
	return validationReport{
		File:       file,
		Scenario:   ws.scenario.Name,
		Valid:      len(violations) == 0,
		Violations: violations,
	}, nil
}
