package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

const clockLayout = "Mon 02 15:04"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func writeTitle(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf(format, args...)))
}

// writeList affiche une liste à puces; vide, elle affiche empty en vert.
func writeList(w io.Writer, title string, items []string, empty string) {
	if len(items) == 0 {
		fmt.Fprintln(w, okStyle.Render(empty))
		return
	}
	writeTitle(w, "%s (%d)", title, len(items))
	for _, it := range items {
		fmt.Fprintln(w, warnStyle.Render("  - "+it))
	}
}

func assignmentRows(s *domain.Schedule, jobs []*domain.Job) [][]string {
	numbers := map[string]string{}
	for _, j := range jobs {
		numbers[j.ID] = j.JobNumber
	}
	var rows [][]string
	for _, a := range s.SortedAssignments() {
		job := numbers[a.JobID]
		if job == "" {
			job = a.JobID
		}
		ops := strings.Join(a.OperatorIDs, ",")
		if ops == "" {
			ops = "-"
		}
		rows = append(rows, []string{
			job,
			a.TaskID,
			a.MachineID,
			ops,
			a.Window.Start.Format(clockLayout),
			a.Window.End.Format(clockLayout),
			fmt.Sprintf("%d", a.SetupDuration.Minutes()),
		})
	}
	return rows
}

func elapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
