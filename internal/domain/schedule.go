package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type ScheduleStatus string

const (
	ScheduleDraft     ScheduleStatus = "DRAFT"
	SchedulePublished ScheduleStatus = "PUBLISHED"
	ScheduleActive    ScheduleStatus = "ACTIVE"
	ScheduleCompleted ScheduleStatus = "COMPLETED"
	ScheduleCancelled ScheduleStatus = "CANCELLED"
)

func (s ScheduleStatus) IsTerminal() bool {
	return s == ScheduleCompleted || s == ScheduleCancelled
}

var ErrScheduleNotEditable = errors.New("schedule is not editable")

func CanTransitionSchedule(from, to ScheduleStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case ScheduleDraft:
		return to == SchedulePublished || to == ScheduleCancelled
	case SchedulePublished:
		return to == ScheduleActive || to == ScheduleCancelled
	case ScheduleActive:
		return to == ScheduleCompleted
	default:
		return false
	}
}

// Assignment place une tâche sur une machine et des opérateurs.
type Assignment struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"taskId"`
	JobID         string     `json:"jobId"`
	MachineID     string     `json:"machineId"`
	OperatorIDs   []string   `json:"operatorIds"`
	Window        TimeWindow `json:"window"`
	SetupDuration Duration   `json:"setupMinutes"`
	Attended      bool       `json:"attended"`
}

// OperatorWindow: fenêtre complète si "attended", setup seul sinon.
// Renvoie false si les opérateurs ne sont pas mobilisés.
func (a Assignment) OperatorWindow() (TimeWindow, bool) {
	if a.Attended {
		return a.Window, true
	}
	if a.SetupDuration <= 0 {
		return TimeWindow{}, false
	}
	end := a.Window.Start.Add(a.SetupDuration.Std())
	if end.After(a.Window.End) {
		end = a.Window.End
	}
	return TimeWindow{Start: a.Window.Start, End: end}, true
}

func (a Assignment) HasOperator(id string) bool {
	for _, op := range a.OperatorIDs {
		if op == id {
			return true
		}
	}
	return false
}

type Schedule struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Status      ScheduleStatus        `json:"status"`
	Horizon     TimeWindow            `json:"horizon"`
	JobIDs      []string              `json:"jobIds"`
	Assignments map[string]Assignment `json:"assignments"`
	CreatedBy   string                `json:"createdBy,omitempty"`
	Version     int                   `json:"version"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
	PublishedAt *time.Time            `json:"publishedAt,omitempty"`
	ActivatedAt *time.Time            `json:"activatedAt,omitempty"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
}

func NewSchedule(id, name string, horizon TimeWindow, jobIDs []string, createdBy string, now time.Time) (*Schedule, error) {
	if !horizon.Start.Before(horizon.End) {
		return nil, ErrInvalidWindow
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Schedule " + horizon.Start.Format("2006-01-02")
	}
	return &Schedule{
		ID:          id,
		Name:        name,
		Status:      ScheduleDraft,
		Horizon:     horizon,
		JobIDs:      append([]string(nil), jobIDs...),
		Assignments: map[string]Assignment{},
		CreatedBy:   createdBy,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Schedule) IsEditable() bool { return s.Status == ScheduleDraft }

func (s *Schedule) transition(to ScheduleStatus, at time.Time) error {
	if !CanTransitionSchedule(s.Status, to) {
		return fmt.Errorf("%w: schedule %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = at
	return nil
}

func (s *Schedule) Publish(at time.Time) error {
	if err := s.transition(SchedulePublished, at); err != nil {
		return err
	}
	s.PublishedAt = &at
	return nil
}

func (s *Schedule) Activate(at time.Time) error {
	if err := s.transition(ScheduleActive, at); err != nil {
		return err
	}
	s.ActivatedAt = &at
	return nil
}

func (s *Schedule) Complete(at time.Time) error {
	if err := s.transition(ScheduleCompleted, at); err != nil {
		return err
	}
	s.CompletedAt = &at
	return nil
}

func (s *Schedule) Cancel(at time.Time) error { return s.transition(ScheduleCancelled, at) }

// Assign remplace une éventuelle affectation existante de la même tâche.
func (s *Schedule) Assign(a Assignment) error {
	if !s.IsEditable() {
		return fmt.Errorf("%w: schedule %s is %s", ErrScheduleNotEditable, s.ID, s.Status)
	}
	if !a.Window.Start.Before(a.Window.End) {
		return fmt.Errorf("%w: task %s", ErrInvalidWindow, a.TaskID)
	}
	if s.Assignments == nil {
		s.Assignments = map[string]Assignment{}
	}
	a.OperatorIDs = append([]string(nil), a.OperatorIDs...)
	s.Assignments[a.TaskID] = a
	return nil
}

func (s *Schedule) Unassign(taskID string) error {
	if !s.IsEditable() {
		return fmt.Errorf("%w: schedule %s is %s", ErrScheduleNotEditable, s.ID, s.Status)
	}
	delete(s.Assignments, taskID)
	return nil
}

func (s *Schedule) Assignment(taskID string) (Assignment, bool) {
	a, ok := s.Assignments[taskID]
	return a, ok
}

func (s *Schedule) HasJob(jobID string) bool {
	for _, id := range s.JobIDs {
		if id == jobID {
			return true
		}
	}
	return false
}

// SortedAssignments renvoie les affectations triées par début puis par tâche.
func (s *Schedule) SortedAssignments() []Assignment {
	out := make([]Assignment, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Window.Start.Equal(out[j].Window.Start) {
			return out[i].Window.Start.Before(out[j].Window.Start)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// MachineTimeline renvoie les affectations d'une machine, triées.
func (s *Schedule) MachineTimeline(machineID string) []Assignment {
	var out []Assignment
	for _, a := range s.SortedAssignments() {
		if a.MachineID == machineID {
			out = append(out, a)
		}
	}
	return out
}

// OperatorTimeline renvoie les fenêtres où l'opérateur est mobilisé, triées.
func (s *Schedule) OperatorTimeline(operatorID string) []Assignment {
	var out []Assignment
	for _, a := range s.SortedAssignments() {
		if _, busy := a.OperatorWindow(); busy && a.HasOperator(operatorID) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Schedule) MachineIDs() []string {
	set := map[string]struct{}{}
	for _, a := range s.Assignments {
		set[a.MachineID] = struct{}{}
	}
	return sortedKeys(set)
}

func (s *Schedule) OperatorIDs() []string {
	set := map[string]struct{}{}
	for _, a := range s.Assignments {
		for _, op := range a.OperatorIDs {
			set[op] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// JobCompletion renvoie la fin de la dernière tâche planifiée du job.
func (s *Schedule) JobCompletion(jobID string) (time.Time, bool) {
	var last time.Time
	found := false
	for _, a := range s.Assignments {
		if a.JobID != jobID {
			continue
		}
		if !found || a.Window.End.After(last) {
			last = a.Window.End
			found = true
		}
	}
	return last, found
}

// Makespan: du début de l'horizon à la dernière fin de tâche.
func (s *Schedule) Makespan() Duration {
	var last time.Time
	for _, a := range s.Assignments {
		if a.Window.End.After(last) {
			last = a.Window.End
		}
	}
	if last.IsZero() || !last.After(s.Horizon.Start) {
		return 0
	}
	return DurationOf(last.Sub(s.Horizon.Start))
}

// Tardiness renvoie le retard total, en minutes, par rapport aux échéances.
func (s *Schedule) Tardiness(dueDates map[string]time.Time) Duration {
	var total Duration
	for jobID, due := range dueDates {
		if end, ok := s.JobCompletion(jobID); ok && end.After(due) {
			total += DurationOf(end.Sub(due))
		}
	}
	return total
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Schedule) Clone() *Schedule {
	c := *s
	c.JobIDs = append([]string(nil), s.JobIDs...)
	c.Assignments = make(map[string]Assignment, len(s.Assignments))
	for k, a := range s.Assignments {
		a.OperatorIDs = append([]string(nil), a.OperatorIDs...)
		c.Assignments[k] = a
	}
	return &c
}
