package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type JobStatus string

const (
	JobPlanned    JobStatus = "PLANNED"
	JobReleased   JobStatus = "RELEASED"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobOnHold     JobStatus = "ON_HOLD"
	JobCancelled  JobStatus = "CANCELLED"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobCancelled
}

// Priority: plus la valeur est haute, plus le job est urgent.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

const (
	MinTaskSequence = 1
	MaxTaskSequence = 100
)

var (
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrJobFrozen          = errors.New("job tasks cannot change once completed or cancelled")
	ErrDuplicateSequence  = errors.New("task sequence already used in job")
	ErrSequenceOutOfRange = errors.New("task sequence out of range")
	ErrTaskNotInJob       = errors.New("task does not belong to job")
)

func CanTransitionJob(from, to JobStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case JobPlanned:
		return to == JobReleased || to == JobOnHold || to == JobCancelled
	case JobReleased:
		return to == JobInProgress || to == JobOnHold || to == JobCancelled
	case JobInProgress:
		return to == JobCompleted || to == JobOnHold || to == JobCancelled
	case JobOnHold:
		return to == JobPlanned || to == JobReleased || to == JobInProgress || to == JobCancelled
	default:
		return false
	}
}

type Job struct {
	ID                       string     `json:"id"`
	JobNumber                string     `json:"jobNumber"`
	Status                   JobStatus  `json:"status"`
	Priority                 Priority   `json:"priority"`
	DueDate                  *time.Time `json:"dueDate,omitempty"`
	ReleaseDate              *time.Time `json:"releaseDate,omitempty"`
	Quantity                 int        `json:"quantity"`
	Tasks                    []*Task    `json:"tasks"`
	CurrentOperationSequence int        `json:"currentOperationSequence"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

func NewJob(id, jobNumber string, priority Priority, quantity int, due *time.Time, now time.Time) (*Job, error) {
	jobNumber = strings.TrimSpace(jobNumber)
	if jobNumber == "" {
		return nil, errors.New("missing job number")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("job %s: quantity must be positive", jobNumber)
	}
	if priority == 0 {
		priority = PriorityNormal
	}
	return &Job{
		ID:        id,
		JobNumber: jobNumber,
		Status:    JobPlanned,
		Priority:  priority,
		DueDate:   due,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (j *Job) IsActive() bool { return !j.Status.IsTerminal() }

func (j *Job) TransitionTo(to JobStatus, at time.Time) error {
	if !CanTransitionJob(j.Status, to) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, j.JobNumber, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = at
	return nil
}

// AddTask insère la tâche en respectant l'unicité des séquences. La première
// tâche ajoutée passe directement à READY.
func (j *Job) AddTask(t *Task) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrJobFrozen, j.JobNumber, j.Status)
	}
	if t.SequenceInJob < MinTaskSequence || t.SequenceInJob > MaxTaskSequence {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrSequenceOutOfRange, t.SequenceInJob, MinTaskSequence, MaxTaskSequence)
	}
	for _, existing := range j.Tasks {
		if existing.SequenceInJob == t.SequenceInJob {
			return fmt.Errorf("%w: %d", ErrDuplicateSequence, t.SequenceInJob)
		}
	}
	t.JobID = j.ID
	if t.Status == "" {
		t.Status = TaskPending
	}
	if len(j.Tasks) == 0 && t.Status == TaskPending && len(t.PredecessorIDs) == 0 {
		t.Status = TaskReady
	}
	j.Tasks = append(j.Tasks, t)
	sort.SliceStable(j.Tasks, func(a, b int) bool { return j.Tasks[a].SequenceInJob < j.Tasks[b].SequenceInJob })
	if j.CurrentOperationSequence == 0 || t.SequenceInJob < j.CurrentOperationSequence {
		j.CurrentOperationSequence = j.Tasks[0].SequenceInJob
	}
	return nil
}

func (j *Job) Task(id string) (*Task, bool) {
	for _, t := range j.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func (j *Job) TaskBySequence(seq int) (*Task, bool) {
	for _, t := range j.Tasks {
		if t.SequenceInJob == seq {
			return t, true
		}
	}
	return nil, false
}

// SortedTasks renvoie une copie triée par séquence.
func (j *Job) SortedTasks() []*Task {
	out := append([]*Task(nil), j.Tasks...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].SequenceInJob < out[b].SequenceInJob })
	return out
}

// TasksInRange renvoie les tâches dont la séquence est dans [from, to].
func (j *Job) TasksInRange(from, to int) []*Task {
	var out []*Task
	for _, t := range j.SortedTasks() {
		if t.SequenceInJob >= from && t.SequenceInJob <= to {
			out = append(out, t)
		}
	}
	return out
}

// CompleteTask termine une tâche, avance l'opération courante, débloque les
// successeurs prêts et termine le job quand tout est fait.
func (j *Job) CompleteTask(taskID string, at time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrJobFrozen, j.JobNumber, j.Status)
	}
	task, ok := j.Task(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotInJob, taskID)
	}
	if err := task.Complete(at); err != nil {
		return err
	}

	completed := func(id string) bool {
		t, ok := j.Task(id)
		return ok && t.Status == TaskCompleted
	}
	for _, t := range j.SortedTasks() {
		if t.Status == TaskPending && t.HasPredecessor(taskID) {
			_ = t.MarkReady(completed)
		}
	}

	next := 0
	for _, t := range j.SortedTasks() {
		if !t.Status.IsTerminal() {
			next = t.SequenceInJob
			break
		}
	}
	if j.Status == JobReleased {
		if err := j.TransitionTo(JobInProgress, at); err != nil {
			return err
		}
	}
	if next == 0 {
		j.CurrentOperationSequence = task.SequenceInJob
		return j.TransitionTo(JobCompleted, at)
	}
	j.CurrentOperationSequence = next
	j.UpdatedAt = at
	return nil
}

// Progress renvoie la fraction de tâches terminées (0..1).
func (j *Job) Progress() float64 {
	total, done := 0, 0
	for _, t := range j.Tasks {
		if t.Status == TaskCancelled {
			continue
		}
		total++
		if t.Status == TaskCompleted {
			done++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// EstimatedDuration additionne la durée minimale de chaque tâche.
func (j *Job) EstimatedDuration() Duration {
	var total Duration
	for _, t := range j.Tasks {
		total += t.MinDuration()
	}
	return total
}

// Predecessors renvoie les prédécesseurs déclarés présents dans le job.
func (j *Job) Predecessors(t *Task) []*Task {
	out := make([]*Task, 0, len(t.PredecessorIDs))
	for _, id := range t.PredecessorIDs {
		if p, ok := j.Task(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// Clone copie le job et ses tâches.
func (j *Job) Clone() *Job {
	c := *j
	c.Tasks = make([]*Task, len(j.Tasks))
	for i, t := range j.Tasks {
		c.Tasks[i] = t.Clone()
	}
	return &c
}
