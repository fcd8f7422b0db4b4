// Package engine construit le modèle de contraintes d'un planning et le
// résout en deux phases (retard+makespan, puis coût opérateur) via un
// Solver interchangeable.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

var (
	ErrModelInvalid = errors.New("invalid model")
	ErrInfeasible   = errors.New("model is infeasible")
)

// Les temps du modèle sont des minutes entières depuis le début de l'horizon.

type IntervalVar struct {
	ID         string `json:"id"`
	TaskIdx    int    `json:"task"`
	OptionIdx  int    `json:"option"`
	MachineIdx int    `json:"machine"`
	Setup      int    `json:"setup"`
	Processing int    `json:"processing"`
	Attended   bool   `json:"attended"`
	Operators  int    `json:"operators"`
}

func (v IntervalVar) Duration() int { return v.Setup + v.Processing }

// GatedDuration est la part de l'intervalle, depuis son début, qui doit tenir
// dans les heures ouvrées: tout si "attended", le setup sinon. Elle ne dépend
// pas du nombre d'opérateurs requis.
func (v IntervalVar) GatedDuration() int {
	if v.Attended {
		return v.Duration()
	}
	return v.Setup
}

// OperatorDuration: durée de mobilisation des opérateurs sur cette option.
func (v IntervalVar) OperatorDuration() int {
	if v.Operators == 0 {
		return 0
	}
	return v.GatedDuration()
}

// OperatorSlot est une place d'opérateur sur une tâche; Eligible liste les
// index d'opérateurs compétents.
type OperatorSlot struct {
	ID       string `json:"id"`
	TaskIdx  int    `json:"task"`
	Slot     int    `json:"slot"`
	Eligible []int  `json:"eligible"`
}

type ModelTask struct {
	ID        string
	JobIdx    int
	Position  int
	Intervals []int
	Preds     []int
	Slots     []int
	Critical  bool
}

type ModelJob struct {
	ID       string
	Number   string
	Priority domain.Priority
	Due      int
	HasDue   bool
	Release  int
	Tasks    []int
}

type ModelMachine struct {
	ID       string
	Capacity int
}

type ModelOperator struct {
	ID            string
	CostPerMinute float64
	Operator      domain.Operator
}

// RangeGroup regroupe, par job, les tâches d'une plage de positions (zone WIP
// ou suite critique). Les entrées d'une suite critique sont dans l'ordre de
// passage.
type RangeGroup struct {
	Label   string
	Max     int
	Entries []RangeEntry
}

type RangeEntry struct {
	JobIdx int
	Tasks  []int
}

type Model struct {
	Horizon        domain.TimeWindow
	HorizonMinutes int
	Calendar       domain.BusinessCalendar

	Jobs      []ModelJob
	Tasks     []ModelTask
	Machines  []ModelMachine
	Operators []ModelOperator
	Intervals []IntervalVar
	Slots     []OperatorSlot

	CriticalSequences []RangeGroup
	WIPZones          []RangeGroup

	// Infeasible liste les raisons d'infaisabilité prouvées à la construction.
	Infeasible []string
}

func (m *Model) TimeAt(offset int) time.Time {
	return m.Horizon.Start.Add(time.Duration(offset) * time.Minute)
}

// OffsetOf arrondit à la minute supérieure.
func (m *Model) OffsetOf(t time.Time) int {
	if !t.After(m.Horizon.Start) {
		return -int(domain.DurationOf(m.Horizon.Start.Sub(t)))
	}
	return int(domain.DurationOf(t.Sub(m.Horizon.Start)))
}

// Phase1Objective: 2 x retard total + makespan.
func Phase1Objective(tardiness, makespan int) float64 {
	return float64(2*tardiness + makespan)
}

func (m *Model) String() string {
	return fmt.Sprintf("model{jobs=%d tasks=%d intervals=%d slots=%d machines=%d operators=%d}",
		len(m.Jobs), len(m.Tasks), len(m.Intervals), len(m.Slots), len(m.Machines), len(m.Operators))
}
