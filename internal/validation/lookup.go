package validation

import (
	"sort"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

// Lookup est l'instantané en lecture seule consulté par les contrôles.
type Lookup struct {
	Jobs      map[string]*domain.Job
	Machines  map[string]domain.Machine
	Operators map[string]domain.Operator
	Rules     domain.BusinessRules

	tasks map[string]*domain.Task
}

func NewLookup(jobs []*domain.Job, machines []domain.Machine, operators []domain.Operator, rules domain.BusinessRules) *Lookup {
	l := &Lookup{
		Jobs:      make(map[string]*domain.Job, len(jobs)),
		Machines:  make(map[string]domain.Machine, len(machines)),
		Operators: make(map[string]domain.Operator, len(operators)),
		Rules:     rules,
		tasks:     map[string]*domain.Task{},
	}
	for _, j := range jobs {
		l.Jobs[j.ID] = j
		for _, t := range j.Tasks {
			l.tasks[t.ID] = t
		}
	}
	for _, m := range machines {
		l.Machines[m.ID] = m
	}
	for _, o := range operators {
		l.Operators[o.ID] = o
	}
	return l
}

func (l *Lookup) Task(id string) (*domain.Task, bool) {
	t, ok := l.tasks[id]
	return t, ok
}

// SortedJobs renvoie les jobs triés par identifiant.
func (l *Lookup) SortedJobs() []*domain.Job {
	out := make([]*domain.Job, 0, len(l.Jobs))
	for _, j := range l.Jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (l *Lookup) jobLabel(id string) string {
	if j, ok := l.Jobs[id]; ok && j.JobNumber != "" {
		return j.JobNumber
	}
	return id
}
