// Package critical dérive les signaux de priorité et de goulot d'un job à
// partir de son graphe de tâches.
package critical

import (
	"math"
	"sort"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

const DefaultMinParallelDistance = 20

// Sequence est une suite maximale (>= 2) de tâches critiques consécutives.
type Sequence struct {
	JobID         string          `json:"jobId"`
	StartPosition int             `json:"startPosition"`
	EndPosition   int             `json:"endPosition"`
	Tasks         []*domain.Task  `json:"-"`
	TaskIDs       []string        `json:"taskIds"`
	Duration      domain.Duration `json:"durationMinutes"`
}

type Bottleneck struct {
	JobID     string          `json:"jobId"`
	JobNumber string          `json:"jobNumber"`
	Sequence  Sequence        `json:"sequence"`
	Duration  domain.Duration `json:"durationMinutes"`
}

type ParallelOpportunity struct {
	AnchorTaskID     string   `json:"anchorTaskId"`
	CandidateTaskIDs []string `json:"candidateTaskIds"`
}

type Manager struct {
	minParallelDistance int
	now                 func() time.Time
}

type Option func(*Manager)

func WithMinParallelDistance(d int) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.minParallelDistance = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{minParallelDistance: DefaultMinParallelDistance, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IdentifyCriticalSequences renvoie les suites de tâches IsCritical consécutives
// dans l'ordre des séquences.
func (m *Manager) IdentifyCriticalSequences(job *domain.Job) []Sequence {
	var out []Sequence
	var run []*domain.Task
	flush := func() {
		if len(run) >= 2 {
			out = append(out, m.newSequence(job.ID, run))
		}
		run = nil
	}
	for _, t := range job.SortedTasks() {
		if t.IsCritical {
			run = append(run, t)
			continue
		}
		flush()
	}
	flush()
	return out
}

func (m *Manager) newSequence(jobID string, tasks []*domain.Task) Sequence {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return Sequence{
		JobID:         jobID,
		StartPosition: tasks[0].SequenceInJob,
		EndPosition:   tasks[len(tasks)-1].SequenceInJob,
		Tasks:         tasks,
		TaskIDs:       ids,
		Duration:      m.CalculateSequenceDuration(tasks),
	}
}

// CalculateSequenceDuration additionne la plus courte option machine de chaque
// tâche (durée planifiée à défaut).
func (m *Manager) CalculateSequenceDuration(tasks []*domain.Task) domain.Duration {
	var total domain.Duration
	for _, t := range tasks {
		total = total.Add(t.MinDuration())
	}
	return total
}

func (m *Manager) FindCriticalPathTasks(job *domain.Job) []*domain.Task {
	var out []*domain.Task
	for _, t := range job.SortedTasks() {
		if t.IsCriticalPath {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) CalculateCriticalPathDuration(job *domain.Job) domain.Duration {
	return m.CalculateSequenceDuration(m.FindCriticalPathTasks(job))
}

// OutsideSequences renvoie les tâches qui n'appartiennent à aucune suite critique.
func (m *Manager) OutsideSequences(job *domain.Job) []*domain.Task {
	in := map[string]bool{}
	for _, s := range m.IdentifyCriticalSequences(job) {
		for _, id := range s.TaskIDs {
			in[id] = true
		}
	}
	var out []*domain.Task
	for _, t := range job.SortedTasks() {
		if !in[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// PrioritizeJobSequence trie (stable) par nombre puis durée des suites
// critiques, puis échéance la plus proche (sans échéance en dernier), puis
// priorité déclarée.
func (m *Manager) PrioritizeJobSequence(jobs []*domain.Job) []*domain.Job {
	type key struct {
		count    int
		duration domain.Duration
	}
	keys := make(map[*domain.Job]key, len(jobs))
	for _, j := range jobs {
		var k key
		for _, s := range m.IdentifyCriticalSequences(j) {
			k.count++
			k.duration += s.Duration
		}
		keys[j] = k
	}
	out := append([]*domain.Job(nil), jobs...)
	sort.SliceStable(out, func(a, b int) bool {
		ka, kb := keys[out[a]], keys[out[b]]
		if ka.count != kb.count {
			return ka.count > kb.count
		}
		if ka.duration != kb.duration {
			return ka.duration > kb.duration
		}
		da, db := out[a].DueDate, out[b].DueDate
		switch {
		case da != nil && db == nil:
			return true
		case da == nil && db != nil:
			return false
		case da != nil && db != nil && !da.Equal(*db):
			return da.Before(*db)
		}
		return out[a].Priority > out[b].Priority
	})
	return out
}

func (m *Manager) IdentifyBottleneckSequences(jobs []*domain.Job) []Bottleneck {
	var out []Bottleneck
	for _, j := range jobs {
		for _, s := range m.IdentifyCriticalSequences(j) {
			out = append(out, Bottleneck{JobID: j.ID, JobNumber: j.JobNumber, Sequence: s, Duration: s.Duration})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Duration > out[b].Duration })
	return out
}

// SuggestParallelExecutionOpportunities associe à chaque tâche non critique les
// tâches non critiques sans dépendance directe et suffisamment éloignées.
func (m *Manager) SuggestParallelExecutionOpportunities(job *domain.Job) []ParallelOpportunity {
	tasks := job.SortedTasks()
	var out []ParallelOpportunity
	for _, anchor := range tasks {
		if anchor.IsCritical {
			continue
		}
		var candidates []string
		for _, other := range tasks {
			if other.ID == anchor.ID || other.IsCritical {
				continue
			}
			if anchor.HasPredecessor(other.ID) || other.HasPredecessor(anchor.ID) {
				continue
			}
			dist := other.SequenceInJob - anchor.SequenceInJob
			if dist < 0 {
				dist = -dist
			}
			if dist < m.minParallelDistance {
				continue
			}
			candidates = append(candidates, other.ID)
		}
		if len(candidates) > 0 {
			out = append(out, ParallelOpportunity{AnchorTaskID: anchor.ID, CandidateTaskIDs: candidates})
		}
	}
	return out
}

// CalculateScheduleCriticalityScore combine chemin critique (0.4), suites
// critiques (0.3) et pression d'échéance (0.3). Plafonné à 1.
func (m *Manager) CalculateScheduleCriticalityScore(job *domain.Job) float64 {
	total := len(job.Tasks)
	if total == 0 {
		return 0
	}
	pathFraction := float64(len(m.FindCriticalPathTasks(job))) / float64(total)

	seqScore := 0.0
	if seqs := m.IdentifyCriticalSequences(job); len(seqs) > 0 {
		inSeq := 0
		for _, s := range seqs {
			inSeq += len(s.Tasks)
		}
		seqScore = 0.5 + 0.5*float64(inSeq)/float64(total)
	}

	pressure := 0.0
	if job.DueDate != nil {
		remaining := job.DueDate.Sub(m.now())
		required := job.EstimatedDuration().Std()
		switch {
		case remaining <= 0:
			pressure = 1
		case required > 0:
			pressure = math.Min(1, float64(required)/float64(remaining))
		}
	}

	return math.Min(1, 0.4*pathFraction+0.3*seqScore+0.3*pressure)
}
