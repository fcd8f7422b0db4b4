package engine

import (
	"fmt"
	"sort"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

// Input est l'instantané à planifier.
type Input struct {
	Horizon   domain.TimeWindow
	Jobs      []*domain.Job
	Machines  []domain.Machine
	Operators []domain.Operator
	Rules     domain.BusinessRules
}

// Build traduit l'instantané en modèle. Les tâches terminées sont ignorées et
// leurs liens de précédence considérés comme satisfaits. Une erreur
// ErrModelInvalid signale un modèle incohérent (cycle, prédécesseur inconnu).
func Build(in Input) (*Model, error) {
	if !in.Horizon.Start.Before(in.Horizon.End) {
		return nil, fmt.Errorf("%w: empty horizon", ErrModelInvalid)
	}
	if err := in.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelInvalid, err)
	}
	m := &Model{
		Horizon:  in.Horizon,
		Calendar: in.Rules.Calendar,
	}
	m.HorizonMinutes = m.OffsetOf(in.Horizon.End)

	machineIdx := map[string]int{}
	for _, mc := range sortedMachines(in.Machines) {
		if !mc.IsSchedulable() {
			continue
		}
		machineIdx[mc.ID] = len(m.Machines)
		m.Machines = append(m.Machines, ModelMachine{ID: mc.ID, Capacity: mc.EffectiveCapacity()})
	}
	machineByID := map[string]domain.Machine{}
	for _, mc := range in.Machines {
		machineByID[mc.ID] = mc
	}
	for _, op := range sortedOperators(in.Operators) {
		if !op.IsActive() {
			continue
		}
		m.Operators = append(m.Operators, ModelOperator{ID: op.ID, CostPerMinute: op.CostPerMinute(), Operator: op})
	}

	jobs := append([]*domain.Job(nil), in.Jobs...)
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	jobIdx := map[string]int{}
	taskIdx := map[string]int{}
	terminal := map[string]bool{}
	for _, j := range jobs {
		mj := ModelJob{ID: j.ID, Number: j.JobNumber, Priority: j.Priority}
		if j.DueDate != nil {
			mj.Due, mj.HasDue = m.OffsetOf(*j.DueDate), true
		}
		if j.ReleaseDate != nil && j.ReleaseDate.After(in.Horizon.Start) {
			mj.Release = m.OffsetOf(*j.ReleaseDate)
		}
		jobIdx[j.ID] = len(m.Jobs)
		for _, t := range j.SortedTasks() {
			if t.Status.IsTerminal() {
				terminal[t.ID] = true
				continue
			}
			ti := len(m.Tasks)
			taskIdx[t.ID] = ti
			mj.Tasks = append(mj.Tasks, ti)
			m.Tasks = append(m.Tasks, ModelTask{ID: t.ID, JobIdx: len(m.Jobs), Position: t.SequenceInJob, Critical: t.IsCritical || t.IsCriticalPath})
		}
		m.Jobs = append(m.Jobs, mj)
	}

	for _, j := range jobs {
		for _, t := range j.SortedTasks() {
			ti, ok := taskIdx[t.ID]
			if !ok {
				continue
			}
			for _, pid := range t.PredecessorIDs {
				if terminal[pid] {
					continue
				}
				pi, ok := taskIdx[pid]
				if !ok {
					return nil, fmt.Errorf("%w: task %s has unknown predecessor %s", ErrModelInvalid, t.ID, pid)
				}
				m.Tasks[ti].Preds = append(m.Tasks[ti].Preds, pi)
			}
			m.addIntervals(ti, t, machineIdx, machineByID)
			m.addSlots(ti, t, in.Horizon)
		}
	}

	m.CriticalSequences = m.buildRanges(jobs, jobIdx, taskIdx, in.Rules)
	m.WIPZones = m.buildZones(jobs, jobIdx, taskIdx, in.Rules)
	if err := m.checkAcyclic(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) addIntervals(ti int, t *domain.Task, machineIdx map[string]int, machines map[string]domain.Machine) {
	for oi, opt := range t.MachineOptions {
		mi, ok := machineIdx[opt.MachineID]
		if !ok {
			continue
		}
		mc := machines[opt.MachineID]
		if !mc.CanPerform(t.TaskType) {
			continue
		}
		iv := IntervalVar{
			ID:         fmt.Sprintf("%s/%d", t.ID, oi),
			TaskIdx:    ti,
			OptionIdx:  oi,
			MachineIdx: mi,
			Setup:      opt.SetupDuration.Minutes(),
			Processing: opt.ProcessingDuration.Minutes(),
			Attended:   opt.RequiresOperatorFullDuration,
			Operators:  domain.RequiredOperators(t, mc),
		}
		if iv.Duration() <= 0 {
			iv.Processing = 1
		}
		m.Tasks[ti].Intervals = append(m.Tasks[ti].Intervals, len(m.Intervals))
		m.Intervals = append(m.Intervals, iv)
	}
	if len(m.Tasks[ti].Intervals) == 0 {
		m.Infeasible = append(m.Infeasible, fmt.Sprintf("task %s has no available machine option", t.ID))
	}
}

func (m *Model) addSlots(ti int, t *domain.Task, horizon domain.TimeWindow) {
	need := 0
	for _, ii := range m.Tasks[ti].Intervals {
		if n := m.Intervals[ii].Operators; n > need {
			need = n
		}
	}
	if need == 0 {
		return
	}
	var eligible []int
	for oi, op := range m.Operators {
		if op.Operator.Meets(t.SkillRequirements, horizon.Start) {
			eligible = append(eligible, oi)
		}
	}
	if len(eligible) < need {
		m.Infeasible = append(m.Infeasible, fmt.Sprintf("task %s needs %d operators, %d eligible", t.ID, need, len(eligible)))
	}
	for s := 0; s < need; s++ {
		m.Tasks[ti].Slots = append(m.Tasks[ti].Slots, len(m.Slots))
		m.Slots = append(m.Slots, OperatorSlot{ID: fmt.Sprintf("%s#%d", t.ID, s), TaskIdx: ti, Slot: s, Eligible: eligible})
	}
}

func (m *Model) rangeEntries(jobs []*domain.Job, jobIdx, taskIdx map[string]int, from, to int) []RangeEntry {
	var out []RangeEntry
	for _, j := range jobs {
		var tasks []int
		for _, t := range j.TasksInRange(from, to) {
			if ti, ok := taskIdx[t.ID]; ok {
				tasks = append(tasks, ti)
			}
		}
		if len(tasks) > 0 {
			out = append(out, RangeEntry{JobIdx: jobIdx[j.ID], Tasks: tasks})
		}
	}
	return out
}

// buildRanges ordonne les jobs par priorité et ajoute les précédences
// implicites: toutes les tâches de la plage d'un job suivent celles du job
// précédent.
func (m *Model) buildRanges(jobs []*domain.Job, jobIdx, taskIdx map[string]int, rules domain.BusinessRules) []RangeGroup {
	ordered := domain.CriticalOrder(jobs)
	var out []RangeGroup
	for _, rule := range rules.CriticalSequences {
		g := RangeGroup{Label: rule.Label, Entries: m.rangeEntries(ordered, jobIdx, taskIdx, rule.StartPosition, rule.EndPosition)}
		for k := 1; k < len(g.Entries); k++ {
			prev := g.Entries[k-1].Tasks
			for _, ti := range g.Entries[k].Tasks {
				m.Tasks[ti].Preds = appendUnique(m.Tasks[ti].Preds, prev...)
			}
		}
		out = append(out, g)
	}
	return out
}

func (m *Model) buildZones(jobs []*domain.Job, jobIdx, taskIdx map[string]int, rules domain.BusinessRules) []RangeGroup {
	var out []RangeGroup
	for _, z := range rules.WIPZones {
		out = append(out, RangeGroup{Label: z.Label(), Max: z.MaxJobs, Entries: m.rangeEntries(jobs, jobIdx, taskIdx, z.StartPosition, z.EndPosition)})
	}
	return out
}

// checkAcyclic applique un tri topologique (Kahn) sur les précédences.
func (m *Model) checkAcyclic() error {
	indeg := make([]int, len(m.Tasks))
	succ := make([][]int, len(m.Tasks))
	for ti, t := range m.Tasks {
		for _, p := range t.Preds {
			indeg[ti]++
			succ[p] = append(succ[p], ti)
		}
	}
	queue := []int{}
	for ti, d := range indeg {
		if d == 0 {
			queue = append(queue, ti)
		}
	}
	seen := 0
	for len(queue) > 0 {
		ti := queue[0]
		queue = queue[1:]
		seen++
		for _, s := range succ[ti] {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if seen != len(m.Tasks) {
		return fmt.Errorf("%w: precedence cycle among %d tasks", ErrModelInvalid, len(m.Tasks)-seen)
	}
	return nil
}

func appendUnique(dst []int, vals ...int) []int {
	for _, v := range vals {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func sortedMachines(in []domain.Machine) []domain.Machine {
	out := append([]domain.Machine(nil), in...)
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func sortedOperators(in []domain.Operator) []domain.Operator {
	out := append([]domain.Operator(nil), in...)
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
