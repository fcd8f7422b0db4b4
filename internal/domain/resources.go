package domain

import (
	"sort"
	"time"
)

type MachineStatus string

const (
	MachineAvailable   MachineStatus = "AVAILABLE"
	MachineBusy        MachineStatus = "BUSY"
	MachineMaintenance MachineStatus = "MAINTENANCE"
	MachineOffline     MachineStatus = "OFFLINE"
)

type Machine struct {
	ID                        string        `json:"id"`
	Name                      string        `json:"name"`
	Capabilities              []string      `json:"capabilities"`
	Status                    MachineStatus `json:"status"`
	ProcessingSpeedMultiplier float64       `json:"processingSpeedMultiplier"`
	RequiresOperator          bool          `json:"requiresOperator"`
	Capacity                  int           `json:"capacity"`
	Zone                      string        `json:"zone,omitempty"`
}

// CanPerform: un type vide est accepté par toute machine.
func (m Machine) CanPerform(taskType string) bool {
	if taskType == "" {
		return true
	}
	for _, c := range m.Capabilities {
		if c == taskType {
			return true
		}
	}
	return false
}

// IsSchedulable exclut les machines en maintenance ou hors ligne.
func (m Machine) IsSchedulable() bool {
	return m.Status == MachineAvailable || m.Status == MachineBusy || m.Status == ""
}

func (m Machine) EffectiveCapacity() int {
	if m.Capacity <= 0 {
		return 1
	}
	return m.Capacity
}

func (m Machine) SpeedMultiplier() float64 {
	if m.ProcessingSpeedMultiplier <= 0 {
		return 1
	}
	return m.ProcessingSpeedMultiplier
}

// Utilization calcule la part de la fenêtre occupée par les réservations,
// ramenée à la capacité de la machine.
func (m Machine) Utilization(window TimeWindow, booked []TimeWindow) float64 {
	total := window.Duration()
	if total == 0 {
		return 0
	}
	var used Duration
	for _, b := range booked {
		if part, ok := window.Intersection(b); ok {
			used += part.Duration()
		}
	}
	u := float64(used) / float64(total) / float64(m.EffectiveCapacity())
	if u > 1 {
		return 1
	}
	return u
}

type OperatorStatus string

const (
	OperatorAvailable OperatorStatus = "AVAILABLE"
	OperatorAssigned  OperatorStatus = "ASSIGNED"
	OperatorOnBreak   OperatorStatus = "ON_BREAK"
	OperatorOffShift  OperatorStatus = "OFF_SHIFT"
	OperatorAbsent    OperatorStatus = "ABSENT"
)

type SkillProficiency struct {
	SkillType   string     `json:"skillType"`
	Level       int        `json:"level"`
	CertifiedAt time.Time  `json:"certifiedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (p SkillProficiency) ValidAt(t time.Time) bool {
	if p.Level < MinSkillLevel || p.Level > MaxSkillLevel {
		return false
	}
	if !p.CertifiedAt.IsZero() && t.Before(p.CertifiedAt) {
		return false
	}
	return p.ExpiresAt == nil || t.Before(*p.ExpiresAt)
}

type Operator struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Skills     []SkillProficiency `json:"skills"`
	Status     OperatorStatus     `json:"status"`
	Shift      *ClockRange        `json:"shift,omitempty"`
	HourlyRate float64            `json:"hourlyRate"`
}

func (o Operator) CostPerMinute() float64 { return o.HourlyRate / 60 }

// SkillLevel renvoie le niveau certifié valide à t, 0 sinon.
func (o Operator) SkillLevel(skillType string, at time.Time) int {
	best := 0
	for _, p := range o.Skills {
		if p.SkillType == skillType && p.ValidAt(at) && p.Level > best {
			best = p.Level
		}
	}
	return best
}

// HighestLevel renvoie le meilleur niveau toutes compétences confondues.
func (o Operator) HighestLevel(at time.Time) int {
	best := 0
	for _, p := range o.Skills {
		if p.ValidAt(at) && p.Level > best {
			best = p.Level
		}
	}
	return best
}

func (o Operator) Meets(reqs []SkillRequirement, at time.Time) bool {
	for _, r := range reqs {
		if o.SkillLevel(r.SkillType, at) < r.MinimumLevel {
			return false
		}
	}
	return true
}

// IsActive exclut les opérateurs absents ou hors poste.
func (o Operator) IsActive() bool {
	return o.Status == OperatorAvailable || o.Status == OperatorAssigned || o.Status == ""
}

// CoversWindow vérifie que la fenêtre tient dans le poste de l'opérateur.
func (o Operator) CoversWindow(w TimeWindow) bool {
	if o.Shift == nil || !o.Shift.Valid() {
		return true
	}
	if w.End.Sub(w.Start) > 24*time.Hour {
		return false
	}
	start, end := clockOf(w.Start), clockOf(w.End)
	sameDay := w.Start.YearDay() == w.End.YearDay() && w.Start.Year() == w.End.Year()
	if !sameDay {
		// fin exactement à minuit
		if !(end == 0 && w.End.Sub(w.Start) < 24*time.Hour) {
			return false
		}
		end = Clock(24, 0)
	}
	return start >= o.Shift.Start && end <= o.Shift.End
}

// IntervalSet est une liste de fenêtres triées par début.
type IntervalSet []TimeWindow

func (s IntervalSet) Sorted() IntervalSet {
	out := append(IntervalSet(nil), s...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// MaxConcurrent renvoie le nombre maximal de fenêtres simultanées.
func (s IntervalSet) MaxConcurrent() int {
	n, _ := s.Peak()
	return n
}

// Peak renvoie le maximum de fenêtres simultanées et le premier instant où il
// est atteint. Une fin et un début au même instant ne se chevauchent pas.
func (s IntervalSet) Peak() (int, time.Time) {
	type edge struct {
		at    time.Time
		delta int
	}
	edges := make([]edge, 0, 2*len(s))
	for _, w := range s {
		edges = append(edges, edge{w.Start, 1}, edge{w.End, -1})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})
	cur, best := 0, 0
	var when time.Time
	for _, e := range edges {
		cur += e.delta
		if cur > best {
			best, when = cur, e.at
		}
	}
	return best, when
}

// RequiredOperators: une machine qui exige un opérateur en impose au moins un.
func RequiredOperators(t *Task, m Machine) int {
	n := t.OperatorCount()
	if n == 0 && m.RequiresOperator {
		return 1
	}
	return n
}
