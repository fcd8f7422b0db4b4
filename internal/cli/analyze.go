package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/critical"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/scenario"
)

type analysisReport struct {
	Queue       []string              `json:"queue"`
	Jobs        []*app.JobAnalysis    `json:"jobs"`
	Bottlenecks []critical.Bottleneck `json:"bottlenecks"`
}

func newAnalyzeCommand(o *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "analyze -f scenario.yaml",
		Short: "Report critical sequences, bottlenecks and job priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(file)
			if err != nil {
				return err
			}
			now := sc.Horizon.Start
			jobs, err := sc.JobList(now)
			if err != nil {
				return err
			}
			m := critical.NewManager(critical.WithClock(func() time.Time { return now }))
			report := analysisReport{Bottlenecks: m.IdentifyBottleneckSequences(jobs)}
			for _, j := range m.PrioritizeJobSequence(jobs) {
				report.Queue = append(report.Queue, j.JobNumber)
				report.Jobs = append(report.Jobs, app.AnalyzeJob(m, j))
			}

			out := cmd.OutOrStdout()
			if o.jsonOutput {
				return writeJSON(out, report)
			}
			writeTitle(out, "Queue: %s", strings.Join(report.Queue, " > "))
			rows := make([][]string, 0, len(report.Jobs))
			for _, a := range report.Jobs {
				rows = append(rows, []string{
					a.JobNumber,
					fmt.Sprintf("%d", len(a.CriticalSequences)),
					fmt.Sprintf("%d", a.CriticalPathMinutes),
					fmt.Sprintf("%d", a.EstimatedMinutes),
					fmt.Sprintf("%d", len(a.ParallelOpportunities)),
					fmt.Sprintf("%.2f", a.CriticalityScore),
				})
			}
			renderTable(out, []string{"JOB", "SEQUENCES", "CRITICAL PATH", "ESTIMATED", "PARALLEL", "SCORE"}, rows)
			if len(report.Bottlenecks) > 0 {
				writeTitle(out, "Bottlenecks")
				for _, b := range report.Bottlenecks {
					fmt.Fprintf(out, "  - %s: tasks %d-%d, %d min\n", b.JobNumber, b.Sequence.StartPosition, b.Sequence.EndPosition, b.Duration.Minutes())
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "scenario file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
