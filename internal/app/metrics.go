package app

import (
	"fmt"
	"sort"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/critical"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
)

const (
	highUtilization = 0.85
	lowUtilization  = 0.20
)

// computeMetrics mesure l'occupation sur la fenêtre utile du planning: du
// début de l'horizon à la dernière fin de tâche.
func computeMetrics(s *domain.Schedule, jobs []*domain.Job, machines []domain.Machine, operators []domain.Operator, opt OptimizationResult, violations int) ScheduleMetrics {
	m := ScheduleMetrics{
		AssignmentCount: len(s.Assignments),
		MakespanMinutes: s.Makespan().Minutes(),
		SolverStatus:    opt.Status,
		SolveTime:       opt.SolveTime,
		ViolationCount:  violations,
	}
	due := map[string]time.Time{}
	for _, j := range jobs {
		if j.DueDate == nil {
			continue
		}
		due[j.ID] = *j.DueDate
		if end, ok := s.JobCompletion(j.ID); ok && end.After(*j.DueDate) {
			m.lateJobs = append(m.lateJobs, lateJob{number: j.JobNumber, late: domain.DurationOf(end.Sub(*j.DueDate))})
		}
	}
	m.TotalTardinessMinutes = s.Tardiness(due).Minutes()
	sort.Slice(m.lateJobs, func(a, b int) bool { return m.lateJobs[a].number < m.lateJobs[b].number })

	if m.MakespanMinutes == 0 {
		return m
	}
	used := domain.TimeWindow{Start: s.Horizon.Start, End: s.Horizon.Start.Add(domain.Duration(m.MakespanMinutes).Std())}
	var schedulable []domain.Machine
	for _, mc := range machines {
		if mc.IsSchedulable() {
			schedulable = append(schedulable, mc)
		}
	}
	var active []domain.Operator
	for _, o := range operators {
		if o.IsActive() {
			active = append(active, o)
		}
	}
	stats := allocation.UtilizationOf(schedulable, active, used, allocation.BookingsFromSchedule(s))
	m.AverageMachineUtilization = stats.AverageMachine
	m.AverageOperatorUtilization = stats.AverageOperator
	m.machineUtilization = stats.Machines
	return m
}

func recommendations(m ScheduleMetrics, opt OptimizationResult, bottlenecks []critical.Bottleneck) []string {
	out := []string{}
	if opt.Status != "" && !opt.Status.HasSolution() {
		out = append(out, fmt.Sprintf("Optimization returned %s: consider relaxing constraints (extend the horizon, raise WIP limits, add machines or operators)", opt.Status))
	}
	ids := make([]string, 0, len(m.machineUtilization))
	for id := range m.machineUtilization {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if u := m.machineUtilization[id]; u > highUtilization {
			out = append(out, fmt.Sprintf("Machine %s is %.0f%% utilized: consider adding capacity", id, u*100))
		}
	}
	for _, id := range ids {
		if u := m.machineUtilization[id]; u < lowUtilization {
			out = append(out, fmt.Sprintf("Machine %s is only %.0f%% utilized: consider rebalancing work onto it", id, u*100))
		}
	}
	for _, l := range m.lateJobs {
		out = append(out, fmt.Sprintf("Job %s is late by %s: review its priority or due date", l.number, l.late))
	}
	if m.ViolationCount > 0 {
		out = append(out, fmt.Sprintf("Resolve %d violation(s) before publishing", m.ViolationCount))
	}
	if len(bottlenecks) > 0 {
		b := bottlenecks[0]
		out = append(out, fmt.Sprintf("Critical sequence %d-%d of job %s is the longest (%s): keep its resources free", b.Sequence.StartPosition, b.Sequence.EndPosition, b.JobNumber, b.Duration))
	}
	return out
}

func optimizationResult(res *engine.Result, fallback bool) OptimizationResult {
	return OptimizationResult{
		Status:        res.Status,
		Objective:     res.Objective,
		Bound:         res.Bound,
		OperatorCost:  res.OperatorCost,
		Phase2Applied: res.Phase2Applied,
		Fallback:      fallback,
		SolveTime:     res.SolveTime,
		Message:       res.Message,
	}
}
