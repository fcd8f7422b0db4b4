package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hm(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func window(h1, m1, h2, m2 int) domain.TimeWindow {
	return domain.TimeWindow{Start: hm(h1, m1), End: hm(h2, m2)}
}

type fixture struct {
	jobs      []*domain.Job
	machines  []domain.Machine
	operators []domain.Operator
	rules     domain.BusinessRules
	schedule  *domain.Schedule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := domain.NewSchedule("s1", "test", domain.TimeWindow{Start: monday, End: monday.AddDate(0, 0, 7)}, nil, "", monday)
	require.NoError(t, err)
	return &fixture{
		machines: []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}, Status: domain.MachineAvailable}},
		operators: []domain.Operator{
			{ID: "o1", Status: domain.OperatorAvailable, Skills: []domain.SkillProficiency{{SkillType: "welding", Level: 1}}},
			{ID: "o2", Status: domain.OperatorAvailable, Skills: []domain.SkillProficiency{{SkillType: "welding", Level: 3}}},
		},
		rules:    domain.DefaultRules(),
		schedule: s,
	}
}

func (f *fixture) job(t *testing.T, id string, tasks ...*domain.Task) *domain.Job {
	t.Helper()
	j, err := domain.NewJob(id, "J-"+id, domain.PriorityNormal, 1, nil, monday)
	require.NoError(t, err)
	for _, tk := range tasks {
		require.NoError(t, j.AddTask(tk))
	}
	f.jobs = append(f.jobs, j)
	f.schedule.JobIDs = append(f.schedule.JobIDs, j.ID)
	return j
}

func (f *fixture) assign(t *testing.T, jobID, taskID string, w domain.TimeWindow, ops ...string) {
	t.Helper()
	require.NoError(t, f.schedule.Assign(domain.Assignment{TaskID: taskID, JobID: jobID, MachineID: "m1", OperatorIDs: ops, Window: w, Attended: true}))
}

func (f *fixture) validator() *Validator {
	return New(NewLookup(f.jobs, f.machines, f.operators, f.rules))
}

func weldTask(id string, seq int) *domain.Task {
	return &domain.Task{
		ID: id, SequenceInJob: seq, TaskType: "weld", RequiredOperatorCount: 1,
		MachineOptions: []domain.MachineOption{{MachineID: "m1", ProcessingDuration: 60, RequiresOperatorFullDuration: true}},
	}
}

func TestValidSchedule(t *testing.T) {
	f := newFixture(t)
	a, b := weldTask("a", 10), weldTask("b", 20)
	b.PredecessorIDs = []string{"a"}
	j := f.job(t, "j1", a, b)
	f.assign(t, "j1", "a", window(8, 0, 9, 0), "o1")
	f.assign(t, "j1", "b", window(9, 0, 10, 0), "o1")

	ok, violations := f.validator().ValidateComplete(j, f.schedule)
	assert.True(t, ok, "%v", violations)
	assert.Empty(t, violations)
}

func TestMachineConflictNamesMachine(t *testing.T) {
	f := newFixture(t)
	f.job(t, "j1", weldTask("a", 10))
	f.job(t, "j2", weldTask("b", 10))
	f.assign(t, "j1", "a", window(8, 0, 9, 0), "o1")
	f.assign(t, "j2", "b", window(8, 30, 9, 30), "o2")

	violations := f.validator().ValidateAll(f.schedule)
	require.Len(t, violations, 1, "%v", violations)
	assert.Contains(t, violations[0], "m1")
	assert.Contains(t, violations[0], "Machine conflict")
}

func TestMachineCapacityAllowsParallelRuns(t *testing.T) {
	f := newFixture(t)
	f.machines[0].Capacity = 2
	f.job(t, "j1", weldTask("a", 10))
	f.job(t, "j2", weldTask("b", 10))
	f.job(t, "j3", weldTask("c", 10))
	f.assign(t, "j1", "a", window(8, 0, 9, 0), "o1")
	f.assign(t, "j2", "b", window(8, 0, 9, 0), "o2")
	v := f.validator()
	assert.Empty(t, v.CheckMachineCapacity(f.schedule))
	assert.Empty(t, v.CheckMachineConflicts(f.schedule))

	f.operators = append(f.operators, domain.Operator{ID: "o3", Skills: []domain.SkillProficiency{{SkillType: "welding", Level: 2}}})
	f.assign(t, "j3", "c", window(8, 30, 9, 30), "o3")
	got := f.validator().CheckMachineCapacity(f.schedule)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "3 > 2")
}

func TestWIPZoneCapacity(t *testing.T) {
	f := newFixture(t)
	f.rules.WIPZones = []domain.WIPZone{{ID: "z1", Name: "assembly", StartPosition: 0, EndPosition: 30, MaxJobs: 3}}
	f.machines[0].Capacity = 10
	for i, id := range []string{"j1", "j2", "j3", "j4"} {
		tid := "t" + id
		f.job(t, id, &domain.Task{ID: tid, SequenceInJob: 10, TaskType: "weld"})
		require.NoError(t, f.schedule.Assign(domain.Assignment{
			TaskID: tid, JobID: id, MachineID: "m1",
			Window: domain.TimeWindow{Start: hm(8, i*5), End: hm(10, 0)},
		}))
	}

	violations := f.validator().ValidateAll(f.schedule)
	require.Len(t, violations, 1, "%v", violations)
	assert.Contains(t, violations[0], "4 > 3")
	assert.Contains(t, violations[0], "assembly")
}

func TestValidateCompleteIgnoresOverrunsOfOtherJobs(t *testing.T) {
	f := newFixture(t)
	f.rules.WIPZones = []domain.WIPZone{{ID: "z1", Name: "assembly", StartPosition: 0, EndPosition: 30, MaxJobs: 3}}
	f.machines[0].Capacity = 3
	jobs := map[string]*domain.Job{}
	for i, id := range []string{"j1", "j2", "j3", "j4", "j5"} {
		tid := "t" + id
		jobs[id] = f.job(t, id, &domain.Task{ID: tid, SequenceInJob: 10, TaskType: "weld"})
		w := domain.TimeWindow{Start: hm(8, i*5), End: hm(10, 0)}
		if id == "j5" {
			w = window(13, 0, 14, 0)
		}
		require.NoError(t, f.schedule.Assign(domain.Assignment{TaskID: tid, JobID: id, MachineID: "m1", Window: w}))
	}
	v := f.validator()

	everything := v.ValidateAll(f.schedule)
	require.Len(t, everything, 2, "%v", everything)

	ok, got := v.ValidateComplete(jobs["j5"], f.schedule)
	assert.True(t, ok, "%v", got)
	assert.Empty(t, got)

	ok, got = v.ValidateComplete(jobs["j1"], f.schedule)
	assert.False(t, ok)
	assert.Equal(t, everything, got)
}

func TestOperatorLacksSkill(t *testing.T) {
	f := newFixture(t)
	tk := weldTask("a", 10)
	tk.SkillRequirements = []domain.SkillRequirement{{SkillType: "welding", MinimumLevel: 2}}
	f.job(t, "j1", tk)
	f.assign(t, "j1", "a", window(8, 0, 9, 0), "o1")

	got := f.validator().CheckOperatorSkills(f.schedule)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "lacks required skills")
	assert.Contains(t, got[0], "needs welding level 2, has 1")
}

func TestOperatorCountAndDuplicates(t *testing.T) {
	f := newFixture(t)
	tk := weldTask("a", 10)
	tk.RequiredOperatorCount = 2
	f.job(t, "j1", tk)
	f.assign(t, "j1", "a", window(8, 0, 9, 0), "o1", "o1")

	got := f.validator().CheckOperatorCounts(f.schedule)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "duplicate operator o1")
	assert.Contains(t, got[1], "requires 2 operators, has 1")
}

func TestOperatorCountOnMachineRequiringOperator(t *testing.T) {
	f := newFixture(t)
	f.machines[0].RequiresOperator = true
	tk := weldTask("a", 10)
	tk.RequiredOperatorCount = 0
	f.job(t, "j1", tk)
	f.assign(t, "j1", "a", window(8, 0, 9, 0))

	v := f.validator()
	got := v.CheckOperatorCounts(f.schedule)
	require.Len(t, got, 1, "%v", got)
	assert.Contains(t, got[0], "requires 1 operators, has 0")
	assert.Contains(t, v.ValidateAll(f.schedule), got[0])

	f.machines[0].RequiresOperator = false
	assert.Empty(t, f.validator().CheckOperatorCounts(f.schedule))
}

func TestBusinessHours(t *testing.T) {
	f := newFixture(t)
	f.rules.Calendar.AddHoliday(monday.AddDate(0, 0, 2))
	f.job(t, "j1", weldTask("a", 10), weldTask("b", 20), weldTask("c", 30), weldTask("d", 40))
	f.assign(t, "j1", "a", window(11, 45, 12, 45), "o1")
	f.assign(t, "j1", "b", window(16, 0, 17, 0), "o1")
	f.assign(t, "j1", "c", domain.TimeWindow{Start: hm(56, 0), End: hm(57, 0)}, "o1")
	require.NoError(t, f.schedule.Assign(domain.Assignment{
		TaskID: "d", JobID: "j1", MachineID: "m1", OperatorIDs: []string{"o2"},
		Window: window(15, 30, 18, 0), SetupDuration: 20,
	}))

	got := f.validator().CheckBusinessHours(f.schedule)
	require.Len(t, got, 3, "%v", got)
	joined := strings.Join(got, "\n")
	assert.Contains(t, joined, "Task a overlaps the lunch break")
	assert.Contains(t, joined, "Task b is outside business hours")
	assert.Contains(t, joined, "Task c is scheduled on a holiday")
}

func TestPrecedence(t *testing.T) {
	f := newFixture(t)
	a, b, c := weldTask("a", 10), weldTask("b", 20), weldTask("c", 30)
	b.PredecessorIDs = []string{"a"}
	c.PredecessorIDs = []string{"x"}
	f.job(t, "j1", a, b, c)
	f.assign(t, "j1", "a", window(9, 0, 10, 0), "o1")
	f.assign(t, "j1", "b", window(8, 0, 9, 0), "o2")
	f.assign(t, "j1", "c", window(13, 0, 14, 0), "o1")

	got := f.validator().CheckPrecedence(f.schedule)
	require.Len(t, got, 2, "%v", got)
	assert.Contains(t, got[0], "before predecessor a")
	assert.Contains(t, got[1], "predecessor x not scheduled")
}

func TestDueDateOverrun(t *testing.T) {
	f := newFixture(t)
	j := f.job(t, "j1", weldTask("a", 10))
	due := hm(8, 30)
	j.DueDate = &due
	f.assign(t, "j1", "a", window(8, 0, 10, 0), "o1")

	got := f.validator().CheckDueDates(f.schedule)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "1.5 hours")
}

func TestCriticalSequenceOrder(t *testing.T) {
	f := newFixture(t)
	f.machines[0].Capacity = 2
	f.rules.CriticalSequences = []domain.CriticalSequenceRule{{ID: "cs", Label: "paint", StartPosition: 10, EndPosition: 20}}
	hi := f.job(t, "hi", weldTask("h", 10))
	hi.Priority = domain.PriorityHigh
	f.job(t, "lo", weldTask("l", 10))
	f.assign(t, "hi", "h", window(8, 0, 9, 0), "o1")
	f.assign(t, "lo", "l", window(8, 30, 9, 30), "o2")

	got := f.validator().CheckCriticalSequences(f.schedule)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "job J-lo enters")
}

func TestValidationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.rules.WIPZones = []domain.WIPZone{{ID: "z", StartPosition: 0, EndPosition: 100, MaxJobs: 1}}
	tk := weldTask("a", 10)
	tk.SkillRequirements = []domain.SkillRequirement{{SkillType: "welding", MinimumLevel: 3}}
	j1 := f.job(t, "j1", tk)
	f.job(t, "j2", weldTask("b", 10))
	f.assign(t, "j1", "a", window(11, 0, 13, 0), "o1")
	f.assign(t, "j2", "b", window(11, 30, 12, 0), "o1")

	v := f.validator()
	first := v.ValidateAll(f.schedule)
	require.NotEmpty(t, first)
	okFirst, completeFirst := v.ValidateComplete(j1, f.schedule)
	require.False(t, okFirst)
	require.NotEmpty(t, completeFirst)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, v.ValidateAll(f.schedule))
		ok, again := v.ValidateComplete(j1, f.schedule)
		assert.Equal(t, okFirst, ok)
		assert.Equal(t, completeFirst, again)
	}
	assert.Len(t, f.schedule.Assignments, 2)
}

func TestCheckUnscheduledListsMissingTasks(t *testing.T) {
	f := newFixture(t)
	done := weldTask("done", 5)
	f.job(t, "j1", done, weldTask("a", 10), weldTask("b", 20))
	done.Status = domain.TaskCompleted
	f.assign(t, "j1", "a", window(8, 0, 9, 0), "o1")

	got := f.validator().CheckUnscheduled(f.schedule)
	assert.Equal(t, []string{"Task b of job J-j1 is not scheduled"}, got)
}
