package domain

import (
	"fmt"
	"sort"
	"time"
)

// WIPZone limite le nombre de jobs présents simultanément dans une plage de
// positions (sequence_in_job) incluse.
type WIPZone struct {
	ID            string `json:"id" yaml:"id" mapstructure:"id"`
	Name          string `json:"name" yaml:"name" mapstructure:"name"`
	StartPosition int    `json:"startPosition" yaml:"start" mapstructure:"start"`
	EndPosition   int    `json:"endPosition" yaml:"end" mapstructure:"end"`
	MaxJobs       int    `json:"maxJobs" yaml:"max" mapstructure:"max"`
}

func (z WIPZone) Covers(position int) bool {
	return position >= z.StartPosition && position <= z.EndPosition
}

func (z WIPZone) Label() string {
	if z.Name != "" {
		return z.Name
	}
	return z.ID
}

// CriticalSequenceRule impose un ordre inter-jobs sur une plage de positions:
// un job n'y entre qu'après la sortie du job précédent (ordre de priorité).
type CriticalSequenceRule struct {
	ID            string `json:"id" yaml:"id" mapstructure:"id"`
	Label         string `json:"label" yaml:"label" mapstructure:"label"`
	StartPosition int    `json:"startPosition" yaml:"start" mapstructure:"start"`
	EndPosition   int    `json:"endPosition" yaml:"end" mapstructure:"end"`
}

func (r CriticalSequenceRule) Covers(position int) bool {
	return position >= r.StartPosition && position <= r.EndPosition
}

type BusinessRules struct {
	Calendar          BusinessCalendar       `json:"-"`
	WIPZones          []WIPZone              `json:"wipZones"`
	CriticalSequences []CriticalSequenceRule `json:"criticalSequences"`
}

func DefaultRules() BusinessRules {
	return BusinessRules{Calendar: DefaultCalendar()}
}

func (r BusinessRules) Validate() error {
	for _, z := range r.WIPZones {
		if z.StartPosition > z.EndPosition {
			return fmt.Errorf("wip zone %s: start %d after end %d", z.Label(), z.StartPosition, z.EndPosition)
		}
		if z.MaxJobs <= 0 {
			return fmt.Errorf("wip zone %s: max jobs must be positive", z.Label())
		}
	}
	for _, cs := range r.CriticalSequences {
		if cs.StartPosition > cs.EndPosition {
			return fmt.Errorf("critical sequence %s: start %d after end %d", cs.Label, cs.StartPosition, cs.EndPosition)
		}
	}
	return nil
}

// RangePresence renvoie la fenêtre d'occupation d'un job sur une plage de
// positions: du début de la première tâche planifiée à la fin de la dernière.
func RangePresence(s *Schedule, job *Job, from, to int) (TimeWindow, bool) {
	var w TimeWindow
	found := false
	for _, t := range job.TasksInRange(from, to) {
		a, ok := s.Assignment(t.ID)
		if !ok {
			continue
		}
		if !found {
			w = a.Window
			found = true
			continue
		}
		if a.Window.Start.Before(w.Start) {
			w.Start = a.Window.Start
		}
		if a.Window.End.After(w.End) {
			w.End = a.Window.End
		}
	}
	return w, found
}

// PresenceAt compte les fenêtres actives à l'instant t.
func PresenceAt(windows []TimeWindow, t time.Time) int {
	n := 0
	for _, w := range windows {
		if w.ContainsTime(t) {
			n++
		}
	}
	return n
}

// CriticalOrder fixe l'ordre de passage des jobs dans une suite critique:
// priorité décroissante, puis échéance, puis numéro de job.
func CriticalOrder(jobs []*Job) []*Job {
	out := append([]*Job(nil), jobs...)
	sort.SliceStable(out, func(a, b int) bool {
		ja, jb := out[a], out[b]
		if ja.Priority != jb.Priority {
			return ja.Priority > jb.Priority
		}
		switch {
		case ja.DueDate != nil && jb.DueDate == nil:
			return true
		case ja.DueDate == nil && jb.DueDate != nil:
			return false
		case ja.DueDate != nil && jb.DueDate != nil && !ja.DueDate.Equal(*jb.DueDate):
			return ja.DueDate.Before(*jb.DueDate)
		}
		return ja.JobNumber < jb.JobNumber
	})
	return out
}
