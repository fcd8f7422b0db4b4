package domain

import (
	"errors"
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskReady      TaskStatus = "READY"
	TaskScheduled  TaskStatus = "SCHEDULED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskCancelled  TaskStatus = "CANCELLED"
	TaskFailed     TaskStatus = "FAILED"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

var ErrPredecessorsIncomplete = errors.New("predecessors are not completed")

// CanTransitionTask n'autorise que les transitions vers l'avant.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskPending:
		return to == TaskReady || to == TaskCancelled
	case TaskReady:
		return to == TaskScheduled || to == TaskCancelled
	case TaskScheduled:
		return to == TaskInProgress || to == TaskCancelled
	case TaskInProgress:
		return to == TaskCompleted || to == TaskFailed || to == TaskCancelled
	default:
		return false
	}
}

// MachineOption est une façon d'exécuter une tâche sur une machine donnée.
// RequiresOperatorFullDuration distingue les tâches "attended" (opérateur présent
// de bout en bout) des "unattended" (opérateur présent pendant le setup seulement).
type MachineOption struct {
	MachineID                    string   `json:"machineId" yaml:"machine"`
	ProcessingDuration           Duration `json:"processingMinutes" yaml:"processing"`
	SetupDuration                Duration `json:"setupMinutes" yaml:"setup"`
	RequiresOperatorFullDuration bool     `json:"attended" yaml:"attended"`
}

func (o MachineOption) TotalDuration() Duration { return o.SetupDuration + o.ProcessingDuration }

// OperatorDuration est la durée pendant laquelle les opérateurs sont mobilisés.
func (o MachineOption) OperatorDuration() Duration {
	if o.RequiresOperatorFullDuration {
		return o.TotalDuration()
	}
	return o.SetupDuration
}

type Task struct {
	ID                    string             `json:"id"`
	JobID                 string             `json:"jobId"`
	SequenceInJob         int                `json:"sequenceInJob"`
	Name                  string             `json:"name"`
	TaskType              string             `json:"taskType"`
	Status                TaskStatus         `json:"status"`
	PredecessorIDs        []string           `json:"predecessorIds,omitempty"`
	MachineOptions        []MachineOption    `json:"machineOptions"`
	SkillRequirements     []SkillRequirement `json:"skillRequirements,omitempty"`
	RequiredOperatorCount int                `json:"requiredOperatorCount"`
	IsCritical            bool               `json:"isCritical"`
	IsCriticalPath        bool               `json:"isCriticalPath"`
	PlannedDuration       Duration           `json:"plannedMinutes,omitempty"`

	PlannedStart *time.Time `json:"plannedStart,omitempty"`
	PlannedEnd   *time.Time `json:"plannedEnd,omitempty"`
	ActualStart  *time.Time `json:"actualStart,omitempty"`
	ActualEnd    *time.Time `json:"actualEnd,omitempty"`

	AssignedMachineID   string   `json:"assignedMachineId,omitempty"`
	AssignedOperatorIDs []string `json:"assignedOperatorIds,omitempty"`
}

func (t *Task) transition(to TaskStatus) error {
	if !CanTransitionTask(t.Status, to) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}

// MarkReady exige que tous les prédécesseurs soient terminés.
func (t *Task) MarkReady(completed func(taskID string) bool) error {
	for _, pid := range t.PredecessorIDs {
		if completed == nil || !completed(pid) {
			return fmt.Errorf("%w: task %s waits on %s", ErrPredecessorsIncomplete, t.ID, pid)
		}
	}
	return t.transition(TaskReady)
}

func (t *Task) Schedule(window TimeWindow, machineID string, operatorIDs []string) error {
	if !window.Start.Before(window.End) {
		return ErrInvalidWindow
	}
	if err := t.transition(TaskScheduled); err != nil {
		return err
	}
	start, end := window.Start, window.End
	t.PlannedStart, t.PlannedEnd = &start, &end
	t.AssignedMachineID = machineID
	t.AssignedOperatorIDs = append([]string(nil), operatorIDs...)
	return nil
}

func (t *Task) Start(at time.Time) error {
	if err := t.transition(TaskInProgress); err != nil {
		return err
	}
	t.ActualStart = &at
	return nil
}

func (t *Task) Complete(at time.Time) error {
	if t.ActualStart != nil && !at.After(*t.ActualStart) {
		return fmt.Errorf("%w: task %s end must be after start", ErrInvalidWindow, t.ID)
	}
	if err := t.transition(TaskCompleted); err != nil {
		return err
	}
	t.ActualEnd = &at
	return nil
}

func (t *Task) Fail() error { return t.transition(TaskFailed) }

func (t *Task) Cancel() error { return t.transition(TaskCancelled) }

func (t *Task) Option(machineID string) (MachineOption, bool) {
	for _, o := range t.MachineOptions {
		if o.MachineID == machineID {
			return o, true
		}
	}
	return MachineOption{}, false
}

// MinDuration: plus courte option machine, sinon durée planifiée.
func (t *Task) MinDuration() Duration {
	if len(t.MachineOptions) == 0 {
		return t.PlannedDuration
	}
	best := t.MachineOptions[0].TotalDuration()
	for _, o := range t.MachineOptions[1:] {
		if d := o.TotalDuration(); d < best {
			best = d
		}
	}
	return best
}

// OperatorCount vaut 0 pour une tâche sans opérateur.
func (t *Task) OperatorCount() int {
	if t.RequiredOperatorCount < 0 {
		return 0
	}
	return t.RequiredOperatorCount
}

func (t *Task) HasPredecessor(id string) bool {
	for _, p := range t.PredecessorIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (t *Task) Clone() *Task {
	c := *t
	c.PredecessorIDs = append([]string(nil), t.PredecessorIDs...)
	c.MachineOptions = append([]MachineOption(nil), t.MachineOptions...)
	c.SkillRequirements = append([]SkillRequirement(nil), t.SkillRequirements...)
	c.AssignedOperatorIDs = append([]string(nil), t.AssignedOperatorIDs...)
	return &c
}
