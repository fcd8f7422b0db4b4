package critical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

var now = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

func task(id string, seq int, minutes int, critical bool) *domain.Task {
	return &domain.Task{
		ID:             id,
		SequenceInJob:  seq,
		IsCritical:     critical,
		MachineOptions: []domain.MachineOption{{MachineID: "m1", ProcessingDuration: domain.Duration(minutes)}},
	}
}

func buildJob(t *testing.T, id string, tasks ...*domain.Task) *domain.Job {
	t.Helper()
	j, err := domain.NewJob(id, "N-"+id, domain.PriorityNormal, 1, nil, now)
	require.NoError(t, err)
	for _, tk := range tasks {
		require.NoError(t, j.AddTask(tk))
	}
	return j
}

func TestIdentifyCriticalSequences(t *testing.T) {
	j := buildJob(t, "j1",
		task("a", 10, 30, true),
		task("b", 20, 40, true),
		task("c", 30, 10, false),
		task("d", 40, 15, true),
		task("e", 50, 20, true),
		task("f", 60, 25, true),
		task("g", 70, 5, false),
	)
	m := NewManager()
	seqs := m.IdentifyCriticalSequences(j)
	require.Len(t, seqs, 2)
	assert.Equal(t, []string{"a", "b"}, seqs[0].TaskIDs)
	assert.Equal(t, domain.Duration(70), seqs[0].Duration)
	assert.Equal(t, 40, seqs[1].StartPosition)
	assert.Equal(t, 60, seqs[1].EndPosition)
	assert.Equal(t, domain.Duration(60), seqs[1].Duration)
}

func TestSingleCriticalTaskIsNotASequence(t *testing.T) {
	j := buildJob(t, "j1", task("a", 10, 30, false), task("b", 20, 30, true), task("c", 30, 30, false))
	assert.Empty(t, NewManager().IdentifyCriticalSequences(j))
}

func TestSequenceDurationRoundTrip(t *testing.T) {
	j := buildJob(t, "j1",
		task("a", 10, 30, true),
		task("b", 20, 40, true),
		task("c", 30, 10, true),
		task("d", 40, 15, false),
		task("e", 50, 20, true),
	)
	m := NewManager()
	var total domain.Duration
	for _, s := range m.IdentifyCriticalSequences(j) {
		total += s.Duration
	}
	total += m.CalculateSequenceDuration(m.OutsideSequences(j))
	assert.Equal(t, j.EstimatedDuration(), total)
}

func TestSequenceDurationUsesShortestOption(t *testing.T) {
	tk := task("a", 10, 60, true)
	tk.MachineOptions = append(tk.MachineOptions, domain.MachineOption{MachineID: "m2", ProcessingDuration: 30, SetupDuration: 5})
	planned := &domain.Task{ID: "b", SequenceInJob: 20, PlannedDuration: 12}
	assert.Equal(t, domain.Duration(47), NewManager().CalculateSequenceDuration([]*domain.Task{tk, planned}))
}

func TestCriticalPath(t *testing.T) {
	a, b := task("a", 10, 30, false), task("b", 20, 45, false)
	b.IsCriticalPath = true
	j := buildJob(t, "j1", a, b)
	m := NewManager()
	require.Len(t, m.FindCriticalPathTasks(j), 1)
	assert.Equal(t, domain.Duration(45), m.CalculateCriticalPathDuration(j))
}

func TestPrioritizeJobSequence(t *testing.T) {
	m := NewManager()
	soon, later := now.Add(24*time.Hour), now.Add(72*time.Hour)

	withSeq := buildJob(t, "seq", task("a", 10, 30, true), task("b", 20, 30, true))
	dueSoon := buildJob(t, "soon", task("a2", 10, 30, false))
	dueSoon.DueDate = &soon
	dueLater := buildJob(t, "later", task("a3", 10, 30, false))
	dueLater.DueDate = &later
	noDueHigh := buildJob(t, "high", task("a4", 10, 30, false))
	noDueHigh.Priority = domain.PriorityCritical
	noDueLow := buildJob(t, "low", task("a5", 10, 30, false))

	got := m.PrioritizeJobSequence([]*domain.Job{noDueLow, dueLater, noDueHigh, dueSoon, withSeq})
	ids := make([]string, len(got))
	for i, j := range got {
		ids[i] = j.ID
	}
	assert.Equal(t, []string{"seq", "soon", "later", "high", "low"}, ids)
}

func TestIdentifyBottleneckSequences(t *testing.T) {
	m := NewManager()
	j1 := buildJob(t, "j1", task("a", 10, 10, true), task("b", 20, 10, true))
	j2 := buildJob(t, "j2", task("c", 10, 50, true), task("d", 20, 50, true))
	got := m.IdentifyBottleneckSequences([]*domain.Job{j1, j2})
	require.Len(t, got, 2)
	assert.Equal(t, "j2", got[0].JobID)
	assert.Equal(t, domain.Duration(100), got[0].Duration)
}

func TestSuggestParallelExecutionOpportunities(t *testing.T) {
	a := task("a", 10, 10, false)
	b := task("b", 20, 10, false)
	b.PredecessorIDs = []string{"a"}
	c := task("c", 40, 10, false)
	d := task("d", 50, 10, true)
	j := buildJob(t, "j1", a, b, c, d)

	got := NewManager().SuggestParallelExecutionOpportunities(j)
	byAnchor := map[string][]string{}
	for _, o := range got {
		byAnchor[o.AnchorTaskID] = o.CandidateTaskIDs
	}
	assert.Equal(t, []string{"c"}, byAnchor["a"])
	assert.Equal(t, []string{"a", "b"}, byAnchor["c"])
	assert.Equal(t, []string{"c"}, byAnchor["b"])
	_, ok := byAnchor["d"]
	assert.False(t, ok, "critical tasks are never anchors")

	tight := NewManager(WithMinParallelDistance(0)).SuggestParallelExecutionOpportunities(j)
	for _, o := range tight {
		if o.AnchorTaskID == "b" {
			assert.Equal(t, []string{"c"}, o.CandidateTaskIDs)
		}
	}
}

func TestCriticalityScore(t *testing.T) {
	m := NewManager(WithClock(func() time.Time { return now }))

	empty := buildJob(t, "empty")
	assert.Zero(t, m.CalculateScheduleCriticalityScore(empty))

	a, b := task("a", 10, 60, true), task("b", 20, 60, true)
	a.IsCriticalPath, b.IsCriticalPath = true, true
	j := buildJob(t, "j1", a, b)
	overdue := now.Add(-time.Hour)
	j.DueDate = &overdue
	assert.InDelta(t, 1.0, m.CalculateScheduleCriticalityScore(j), 1e-9)

	plain := buildJob(t, "j2", task("c", 10, 60, false))
	assert.Zero(t, m.CalculateScheduleCriticalityScore(plain))

	due := now.Add(4 * time.Hour)
	plain.DueDate = &due
	assert.InDelta(t, 0.3*0.25, m.CalculateScheduleCriticalityScore(plain), 1e-9)
}
