// Package validation contrôle un planning contre les règles métier. Les
// contrôles sont purs: ils ne modifient ni le planning ni le Lookup, et leurs
// résultats sont des données (liste de violations), jamais des erreurs.
package validation

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

const stampLayout = "2006-01-02 15:04"

type Validator struct {
	lookup *Lookup
}

func New(lookup *Lookup) *Validator {
	return &Validator{lookup: lookup}
}

type filter func(a domain.Assignment) bool

func all(domain.Assignment) bool { return true }

type check func(s *domain.Schedule, keep filter) []string

func (v *Validator) checks() []check {
	return []check{
		v.machineCapabilities,
		v.operatorSkills,
		v.operatorCounts,
		v.businessHours,
		v.machineConflicts,
		v.operatorConflicts,
		v.precedence,
		v.wipZones,
		v.criticalSequences,
		v.machineCapacity,
		v.dueDates,
	}
}

// ValidateAll exécute tous les contrôles en parallèle; l'ordre des violations
// est celui des contrôles, puis celui des affectations triées.
func (v *Validator) ValidateAll(s *domain.Schedule) []string {
	return v.run(s, all)
}

func (v *Validator) run(s *domain.Schedule, keep filter) []string {
	checks := v.checks()
	results := make([][]string, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			results[i] = c(s, keep)
			return nil
		})
	}
	_ = g.Wait()

	out := []string{}
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// ValidateComplete agrège les contrôles pour un job: affectations du job,
// tâches non planifiées, et contraintes partagées qui l'impliquent.
func (v *Validator) ValidateComplete(job *domain.Job, s *domain.Schedule) (bool, []string) {
	out := unscheduled(job, s)
	out = append(out, v.run(s, func(a domain.Assignment) bool { return a.JobID == job.ID })...)
	return len(out) == 0, out
}

// CheckUnscheduled liste les tâches non terminées des jobs du planning qui
// n'ont pas d'affectation.
func (v *Validator) CheckUnscheduled(s *domain.Schedule) []string {
	var out []string
	for _, id := range s.JobIDs {
		if j, ok := v.lookup.Jobs[id]; ok {
			out = append(out, unscheduled(j, s)...)
		}
	}
	return out
}

func unscheduled(job *domain.Job, s *domain.Schedule) []string {
	var out []string
	for _, t := range job.SortedTasks() {
		if t.Status.IsTerminal() {
			continue
		}
		if _, ok := s.Assignment(t.ID); !ok {
			out = append(out, fmt.Sprintf("Task %s of job %s is not scheduled", t.ID, job.JobNumber))
		}
	}
	return out
}

func (v *Validator) CheckMachineCapabilities(s *domain.Schedule) []string {
	return v.machineCapabilities(s, all)
}

func (v *Validator) machineCapabilities(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, a := range s.SortedAssignments() {
		if !keep(a) {
			continue
		}
		m, ok := v.lookup.Machines[a.MachineID]
		if !ok {
			out = append(out, fmt.Sprintf("Machine %s not found for task %s", a.MachineID, a.TaskID))
			continue
		}
		t, ok := v.lookup.Task(a.TaskID)
		if !ok {
			out = append(out, fmt.Sprintf("Task %s not found", a.TaskID))
			continue
		}
		if !m.CanPerform(t.TaskType) {
			out = append(out, fmt.Sprintf("Machine %s cannot perform task %s of type %s", m.ID, t.ID, t.TaskType))
		}
		if len(t.MachineOptions) > 0 {
			if _, ok := t.Option(m.ID); !ok {
				out = append(out, fmt.Sprintf("Machine %s is not a processing option for task %s", m.ID, t.ID))
			}
		}
		if !m.IsSchedulable() {
			out = append(out, fmt.Sprintf("Machine %s is %s and cannot run task %s", m.ID, m.Status, t.ID))
		}
	}
	return out
}

func (v *Validator) CheckOperatorSkills(s *domain.Schedule) []string {
	return v.operatorSkills(s, all)
}

func (v *Validator) operatorSkills(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, a := range s.SortedAssignments() {
		if !keep(a) {
			continue
		}
		t, ok := v.lookup.Task(a.TaskID)
		if !ok {
			continue
		}
		for _, opID := range a.OperatorIDs {
			op, ok := v.lookup.Operators[opID]
			if !ok {
				out = append(out, fmt.Sprintf("Operator %s not found for task %s", opID, t.ID))
				continue
			}
			for _, req := range t.SkillRequirements {
				if has := op.SkillLevel(req.SkillType, a.Window.Start); has < req.MinimumLevel {
					out = append(out, fmt.Sprintf("Operator %s lacks required skills for task %s: needs %s level %d, has %d",
						op.ID, t.ID, req.SkillType, req.MinimumLevel, has))
				}
			}
		}
	}
	return out
}

func (v *Validator) CheckOperatorCounts(s *domain.Schedule) []string {
	return v.operatorCounts(s, all)
}

func (v *Validator) operatorCounts(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, a := range s.SortedAssignments() {
		if !keep(a) {
			continue
		}
		seen := map[string]bool{}
		for _, op := range a.OperatorIDs {
			if seen[op] {
				out = append(out, fmt.Sprintf("Task %s has duplicate operator %s", a.TaskID, op))
			}
			seen[op] = true
		}
		t, ok := v.lookup.Task(a.TaskID)
		if !ok {
			continue
		}
		want := t.OperatorCount()
		if m, ok := v.lookup.Machines[a.MachineID]; ok {
			want = domain.RequiredOperators(t, m)
		}
		if len(seen) < want {
			out = append(out, fmt.Sprintf("Task %s requires %d operators, has %d", t.ID, want, len(seen)))
		}
	}
	return out
}

func (v *Validator) CheckBusinessHours(s *domain.Schedule) []string {
	return v.businessHours(s, all)
}

// businessHours contrôle la fenêtre où un opérateur est présent: tâche
// entière si "attended", setup seul sinon.
func (v *Validator) businessHours(s *domain.Schedule, keep filter) []string {
	cal := v.lookup.Rules.Calendar
	var out []string
	for _, a := range s.SortedAssignments() {
		if !keep(a) {
			continue
		}
		w, staffed := a.OperatorWindow()
		if !staffed {
			continue
		}
		if cal.FitsWindow(w.Start, w.End) {
			continue
		}
		switch {
		case cal.IsHoliday(w.Start) || cal.IsHoliday(w.End.Add(-time.Minute)):
			out = append(out, fmt.Sprintf("Task %s is scheduled on a holiday (%s)", a.TaskID, w.Start.Format("2006-01-02")))
		case overlapsLunch(cal, w):
			out = append(out, fmt.Sprintf("Task %s overlaps the lunch break (%s - %s)", a.TaskID, w.Start.Format(stampLayout), w.End.Format(stampLayout)))
		default:
			out = append(out, fmt.Sprintf("Task %s is outside business hours (%s - %s)", a.TaskID, w.Start.Format(stampLayout), w.End.Format(stampLayout)))
		}
	}
	return out
}

func overlapsLunch(cal domain.BusinessCalendar, w domain.TimeWindow) bool {
	for t := w.Start; t.Before(w.End); t = t.Add(time.Minute) {
		if cal.IsLunch(t) {
			return true
		}
	}
	return false
}

func (v *Validator) CheckMachineConflicts(s *domain.Schedule) []string {
	return v.machineConflicts(s, all)
}

// machineConflicts signale chaque paire qui se chevauche sur une machine de
// capacité 1. Les capacités supérieures relèvent de machineCapacity.
func (v *Validator) machineConflicts(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, id := range s.MachineIDs() {
		if m, ok := v.lookup.Machines[id]; ok && m.EffectiveCapacity() > 1 {
			continue
		}
		tl := s.MachineTimeline(id)
		for i := 0; i < len(tl); i++ {
			for j := i + 1; j < len(tl); j++ {
				if !tl[j].Window.Start.Before(tl[i].Window.End) {
					break
				}
				if !keep(tl[i]) && !keep(tl[j]) {
					continue
				}
				out = append(out, fmt.Sprintf("Machine conflict on %s: task %s (%s - %s) overlaps task %s (%s - %s)",
					id, tl[i].TaskID, tl[i].Window.Start.Format(stampLayout), tl[i].Window.End.Format(stampLayout),
					tl[j].TaskID, tl[j].Window.Start.Format(stampLayout), tl[j].Window.End.Format(stampLayout)))
			}
		}
	}
	return out
}

func (v *Validator) CheckOperatorConflicts(s *domain.Schedule) []string {
	return v.operatorConflicts(s, all)
}

func (v *Validator) operatorConflicts(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, id := range s.OperatorIDs() {
		tl := s.OperatorTimeline(id)
		for i := 0; i < len(tl); i++ {
			wi, _ := tl[i].OperatorWindow()
			for j := i + 1; j < len(tl); j++ {
				wj, _ := tl[j].OperatorWindow()
				if !wi.Overlaps(wj) {
					continue
				}
				if !keep(tl[i]) && !keep(tl[j]) {
					continue
				}
				out = append(out, fmt.Sprintf("Operator conflict on %s: task %s (%s - %s) overlaps task %s (%s - %s)",
					id, tl[i].TaskID, wi.Start.Format(stampLayout), wi.End.Format(stampLayout),
					tl[j].TaskID, wj.Start.Format(stampLayout), wj.End.Format(stampLayout)))
			}
		}
	}
	return out
}

func (v *Validator) CheckPrecedence(s *domain.Schedule) []string {
	return v.precedence(s, all)
}

func (v *Validator) precedence(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, a := range s.SortedAssignments() {
		if !keep(a) {
			continue
		}
		t, ok := v.lookup.Task(a.TaskID)
		if !ok {
			continue
		}
		for _, pid := range t.PredecessorIDs {
			pa, scheduled := s.Assignment(pid)
			if !scheduled {
				if p, ok := v.lookup.Task(pid); ok && p.Status == domain.TaskCompleted {
					continue
				}
				out = append(out, fmt.Sprintf("Task %s predecessor %s not scheduled", t.ID, pid))
				continue
			}
			if a.Window.Start.Before(pa.Window.End) {
				out = append(out, fmt.Sprintf("Task %s starts at %s before predecessor %s ends at %s",
					t.ID, a.Window.Start.Format(stampLayout), pid, pa.Window.End.Format(stampLayout)))
			}
		}
	}
	return out
}

func (v *Validator) CheckWIPZones(s *domain.Schedule) []string {
	return v.wipZones(s, all)
}

// wipZones produit au plus une violation par zone, au premier pic.
// Avec un filtre, seuls les dépassements qui touchent un job retenu comptent.
func (v *Validator) wipZones(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, z := range v.lookup.Rules.WIPZones {
		var windows []domain.TimeWindow
		var kept []bool
		for _, j := range v.scheduledJobs(s) {
			if w, ok := domain.RangePresence(s, j, z.StartPosition, z.EndPosition); ok {
				windows = append(windows, w)
				kept = append(kept, keep(domain.Assignment{JobID: j.ID}))
			}
		}
		peak, when := peakWithin(windows, kept)
		if peak > z.MaxJobs {
			out = append(out, fmt.Sprintf("WIP zone %s capacity exceeded at %s: %d > %d", z.Label(), when.Format(stampLayout), peak, z.MaxJobs))
		}
	}
	return out
}

func (v *Validator) CheckCriticalSequences(s *domain.Schedule) []string {
	return v.criticalSequences(s, all)
}

// criticalSequences vérifie qu'un job n'entre dans la plage qu'après la sortie
// du job qui le précède dans l'ordre de priorité.
func (v *Validator) criticalSequences(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, rule := range v.lookup.Rules.CriticalSequences {
		var prev *domain.Job
		var prevWindow domain.TimeWindow
		for _, j := range domain.CriticalOrder(v.scheduledJobs(s)) {
			w, ok := domain.RangePresence(s, j, rule.StartPosition, rule.EndPosition)
			if !ok {
				continue
			}
			if prev != nil && w.Start.Before(prevWindow.End) && (keep(domain.Assignment{JobID: j.ID}) || keep(domain.Assignment{JobID: prev.ID})) {
				out = append(out, fmt.Sprintf("Critical sequence %s: job %s enters at %s before job %s exits at %s",
					rule.Label, j.JobNumber, w.Start.Format(stampLayout), prev.JobNumber, prevWindow.End.Format(stampLayout)))
			}
			prev, prevWindow = j, w
		}
	}
	return out
}

func (v *Validator) CheckMachineCapacity(s *domain.Schedule) []string {
	return v.machineCapacity(s, all)
}

func (v *Validator) machineCapacity(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, id := range s.MachineIDs() {
		m, ok := v.lookup.Machines[id]
		if !ok || m.EffectiveCapacity() <= 1 {
			continue
		}
		var windows []domain.TimeWindow
		var kept []bool
		for _, a := range s.MachineTimeline(id) {
			windows = append(windows, a.Window)
			kept = append(kept, keep(a))
		}
		if peak, when := peakWithin(windows, kept); peak > m.EffectiveCapacity() {
			out = append(out, fmt.Sprintf("Machine %s capacity exceeded at %s: %d > %d", id, when.Format(stampLayout), peak, m.EffectiveCapacity()))
		}
	}
	return out
}

func (v *Validator) CheckDueDates(s *domain.Schedule) []string {
	return v.dueDates(s, all)
}

func (v *Validator) dueDates(s *domain.Schedule, keep filter) []string {
	var out []string
	for _, j := range v.scheduledJobs(s) {
		if j.DueDate == nil || !keep(domain.Assignment{JobID: j.ID}) {
			continue
		}
		end, ok := s.JobCompletion(j.ID)
		if !ok || !end.After(*j.DueDate) {
			continue
		}
		out = append(out, fmt.Sprintf("Job %s completes %.1f hours after its due date", j.JobNumber, end.Sub(*j.DueDate).Hours()))
	}
	return out
}

// peakWithin renvoie le pic de chevauchement des fenêtres, limité aux instants
// couverts par au moins une fenêtre retenue, et son premier instant. Quand
// toutes sont retenues, le résultat est celui de IntervalSet.Peak.
func peakWithin(windows []domain.TimeWindow, kept []bool) (int, time.Time) {
	best := 0
	var when time.Time
	for i, focus := range windows {
		if !kept[i] {
			continue
		}
		var clipped domain.IntervalSet
		for _, w := range windows {
			start, end := w.Start, w.End
			if start.Before(focus.Start) {
				start = focus.Start
			}
			if end.After(focus.End) {
				end = focus.End
			}
			if start.Before(end) {
				clipped = append(clipped, domain.TimeWindow{Start: start, End: end})
			}
		}
		n, at := clipped.Peak()
		if n > best || (n == best && n > 0 && at.Before(when)) {
			best, when = n, at
		}
	}
	return best, when
}

// scheduledJobs renvoie, triés, les jobs connus ayant au moins une affectation.
func (v *Validator) scheduledJobs(s *domain.Schedule) []*domain.Job {
	ids := map[string]struct{}{}
	for _, a := range s.Assignments {
		ids[a.JobID] = struct{}{}
	}
	out := make([]*domain.Job, 0, len(ids))
	for id := range ids {
		if j, ok := v.lookup.Jobs[id]; ok {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
