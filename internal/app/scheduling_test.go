package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memorybus"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memstore"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/workflow"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
)

var monday0700 = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

// stepClock avance d'une minute à chaque lecture.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type harness struct {
	svc       *SchedulingService
	jobs      *memstore.JobStore
	schedules *memstore.ScheduleStore
	bus       *memorybus.Bus
	events    <-chan domain.Event
}

func weldTask(id string, seq int, preds ...string) *domain.Task {
	return &domain.Task{
		ID: id, SequenceInJob: seq, TaskType: "weld", PredecessorIDs: preds, RequiredOperatorCount: 1,
		SkillRequirements: []domain.SkillRequirement{{SkillType: "welding", MinimumLevel: 1}},
		MachineOptions: []domain.MachineOption{
			{MachineID: "m1", SetupDuration: 10, ProcessingDuration: 60, RequiresOperatorFullDuration: true},
		},
	}
}

func chainJob(t *testing.T, id string, due *time.Time) *domain.Job {
	t.Helper()
	j, err := domain.NewJob(id, "J-"+id, domain.PriorityNormal, 1, due, monday0700)
	require.NoError(t, err)
	require.NoError(t, j.AddTask(weldTask(id+"-10", 10)))
	require.NoError(t, j.AddTask(weldTask(id+"-20", 20, id+"-10")))
	require.NoError(t, j.AddTask(weldTask(id+"-30", 30, id+"-20")))
	return j
}

func newHarness(t *testing.T, operators []domain.Operator, jobs ...*domain.Job) *harness {
	t.Helper()
	if operators == nil {
		operators = []domain.Operator{
			{ID: "o1", Status: domain.OperatorAvailable, HourlyRate: 30, Skills: []domain.SkillProficiency{{SkillType: "welding", Level: 2}}},
			{ID: "o2", Status: domain.OperatorAvailable, HourlyRate: 45, Skills: []domain.SkillProficiency{{SkillType: "welding", Level: 3}}},
		}
	}
	machines := memstore.NewMachineStore(
		domain.Machine{ID: "m1", Capabilities: []string{"weld"}, Status: domain.MachineAvailable, Capacity: 1},
		domain.Machine{ID: "m2", Capabilities: []string{"weld"}, Status: domain.MachineAvailable, Capacity: 1},
	)
	ops := memstore.NewOperatorStore(operators...)
	jobStore := memstore.NewJobStore(jobs...)
	schedules := memstore.NewScheduleStore()
	bus := memorybus.New(zerolog.Nop())
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	rules := domain.DefaultRules()
	eng := engine.New(engine.NewSearchSolver(zerolog.Nop()),
		engine.Config{TimeBudget: 2 * time.Second, Workers: 1, Seed: 1, MaxIterations: 100, Phase2Tolerance: 0.05}, zerolog.Nop())
	clock := &stepClock{now: monday0700.Add(-time.Hour)}
	svc := NewSchedulingService(SchedulingDeps{
		Jobs: jobStore, Machines: machines, Operators: ops, Schedules: schedules,
		Events: bus, Workflow: workflow.New(jobStore, zerolog.Nop()), Engine: eng,
		Allocator: allocation.NewAllocator(machines, ops, rules.Calendar, allocation.DefaultPreferences(), zerolog.Nop()),
		Rules:     rules, Limiter: NewSolveLimiter(2), Now: clock.Now,
	}, zerolog.Nop())
	return &harness{svc: svc, jobs: jobStore, schedules: schedules, bus: bus, events: events}
}

func (h *harness) drain() []domain.EventKind {
	var out []domain.EventKind
	for {
		select {
		case e := <-h.events:
			out = append(out, e.Kind)
		default:
			return out
		}
	}
}

func request(jobIDs ...string) SchedulingRequest {
	return SchedulingRequest{Name: "week 1", JobIDs: jobIDs, StartTime: monday0700, EndTime: monday0700.AddDate(0, 0, 7), CreatedBy: "planner"}
}

func TestCreateOptimizedSchedule_ThreeTaskJob(t *testing.T) {
	due := monday0700.AddDate(0, 0, 2)
	h := newHarness(t, nil, chainJob(t, "j1", &due))

	res, err := h.svc.CreateOptimizedSchedule(context.Background(), request("j1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleDraft, res.Schedule.Status)
	assert.Empty(t, res.Violations)
	assert.False(t, res.OptimizationResult.Fallback)
	assert.Equal(t, engine.StatusOptimal, res.OptimizationResult.Status)
	assert.Equal(t, 3, res.Metrics.AssignmentCount)
	assert.Equal(t, 210, res.Metrics.MakespanMinutes)
	assert.Equal(t, 0, res.Metrics.TotalTardinessMinutes)
	assert.Greater(t, res.Metrics.AverageMachineUtilization, 0.0)
	for _, a := range res.Schedule.Assignments {
		assert.NotEmpty(t, a.ID)
	}

	stored, err := h.svc.GetSchedule(context.Background(), res.Schedule.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Assignments, 3)
	assert.Contains(t, h.drain(), domain.EventScheduleCreated)
}

func TestCreateOptimizedSchedule_RequestValidation(t *testing.T) {
	done := chainJob(t, "done", nil)
	done.Status = domain.JobCompleted
	h := newHarness(t, nil, chainJob(t, "j1", nil), done)
	ctx := context.Background()

	_, err := h.svc.CreateOptimizedSchedule(ctx, request())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid_request", ErrorCode(err))

	bad := request("j1")
	bad.EndTime = bad.StartTime
	_, err = h.svc.CreateOptimizedSchedule(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.CreateOptimizedSchedule(ctx, request("j1", "j1"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.CreateOptimizedSchedule(ctx, request("ghost"))
	var nf *JobNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.JobID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.CreateOptimizedSchedule(ctx, request("done"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	zones := request("j1")
	zones.Constraints = &ConstraintOverrides{WIPZones: []domain.WIPZone{{ID: "z", StartPosition: 5, EndPosition: 1, MaxJobs: 1}}}
	_, err = h.svc.CreateOptimizedSchedule(ctx, zones)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateOptimizedSchedule_FallsBackWhenHorizonTooShort(t *testing.T) {
	h := newHarness(t, nil, chainJob(t, "j1", nil))
	req := request("j1")
	req.EndTime = monday0700.Add(time.Hour)

	res, err := h.svc.CreateOptimizedSchedule(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.OptimizationResult.Fallback)
	assert.False(t, res.OptimizationResult.Status.HasSolution())
	assert.Len(t, res.Schedule.Assignments, 3)
	require.NotEmpty(t, res.Violations)
	assert.Contains(t, res.Violations[0], "Optimization status")
	require.NotEmpty(t, res.Recommendations)
	assert.Contains(t, res.Recommendations[0], "relaxing constraints")
}

func TestCreateOptimizedSchedule_InfeasibleSkillsYieldsDegradedResult(t *testing.T) {
	novice := []domain.Operator{{ID: "o1", Status: domain.OperatorAvailable, Skills: []domain.SkillProficiency{{SkillType: "painting", Level: 3}}}}
	h := newHarness(t, novice, chainJob(t, "j1", nil))

	res, err := h.svc.CreateOptimizedSchedule(context.Background(), request("j1"))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusInfeasible, res.OptimizationResult.Status)
	assert.Empty(t, res.Schedule.Assignments)
	joined := ""
	for _, v := range res.Violations {
		joined += v + "\n"
	}
	assert.Contains(t, joined, "could not be fully allocated")
	assert.Contains(t, joined, "is not scheduled")
}

func TestPublishSchedule_RejectsViolationsAndStaysDraft(t *testing.T) {
	h := newHarness(t, nil, chainJob(t, "j1", nil), chainJob(t, "j2", nil))
	ctx := context.Background()
	res, err := h.svc.CreateOptimizedSchedule(ctx, request("j1", "j2"))
	require.NoError(t, err)
	require.Empty(t, res.Violations)
	id := res.Schedule.ID

	first, _ := res.Schedule.Assignment("j1-10")
	clash := domain.Assignment{TaskID: "j2-10", MachineID: first.MachineID, OperatorIDs: []string{"o2"}, Window: first.Window}
	upd, err := h.svc.UpdateSchedule(ctx, id, ScheduleChanges{Upsert: []domain.Assignment{clash}})
	require.NoError(t, err)
	require.NotEmpty(t, upd.Violations)

	_, err = h.svc.PublishSchedule(ctx, id)
	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrScheduleHasViolations)
	assert.NotEmpty(t, perr.Violations)

	stored, err := h.svc.GetSchedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleDraft, stored.Status)

	conflicts, err := h.svc.GetResourceConflicts(ctx, id, domain.TimeWindow{})
	require.NoError(t, err)
	require.NotEmpty(t, conflicts)
	assert.Equal(t, "machine", conflicts[0].ResourceType)
	assert.ElementsMatch(t, []string{"j1-10", "j2-10"}, conflicts[0].TaskIDs)
}

func TestScheduleLifecycle_PublishExecuteComplete(t *testing.T) {
	h := newHarness(t, nil, chainJob(t, "j1", nil))
	ctx := context.Background()
	res, err := h.svc.CreateOptimizedSchedule(ctx, request("j1"))
	require.NoError(t, err)
	id := res.Schedule.ID

	_, err = h.svc.ExecuteSchedule(ctx, id)
	var serr *InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.ScheduleDraft, serr.From)

	pub, err := h.svc.PublishSchedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SchedulePublished, pub.Status)
	require.NotNil(t, pub.PublishedAt)

	_, err = h.svc.UpdateSchedule(ctx, id, ScheduleChanges{RemoveTaskIDs: []string{"j1-10"}})
	assert.ErrorIs(t, err, ErrScheduleLocked)
	assert.Equal(t, "schedule_locked", ErrorCode(err))

	exec, err := h.svc.ExecuteSchedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleActive, exec.Schedule.Status)
	require.Len(t, exec.Jobs, 1)
	require.NotNil(t, exec.Jobs[0].State)
	assert.Equal(t, domain.JobReleased, exec.Jobs[0].State.Status)

	for _, taskID := range []string{"j1-10", "j1-20", "j1-30"} {
		_, err := h.svc.StartTask(ctx, "j1", taskID)
		require.NoError(t, err, taskID)
		_, err = h.svc.CompleteTask(ctx, "j1", taskID)
		require.NoError(t, err, taskID)
	}

	report, err := h.svc.GetScheduleStatus(ctx, id)
	require.NoError(t, err)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, domain.JobCompleted, report.Jobs[0].Status)
	assert.InDelta(t, 1.0, report.Progress, 1e-9)

	tracker := NewCompletionTracker(zerolog.Nop(), h.bus, h.svc)
	var jobEvent *domain.Event
	for _, e := range drainEvents(h.events) {
		if e.Kind == domain.EventJobStatusChanged && e.AggregateID == "j1" {
			e := e
			jobEvent = &e
		}
	}
	require.NotNil(t, jobEvent)
	tracker.handleEvent(ctx, *jobEvent)

	stored, err := h.svc.GetSchedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleCompleted, stored.Status)

	_, err = h.svc.CompleteSchedule(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func drainEvents(ch <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestStartTask_RequiresActiveAssignment(t *testing.T) {
	h := newHarness(t, nil, chainJob(t, "j1", nil))
	_, err := h.svc.StartTask(context.Background(), "j1", "j1-10")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.svc.CompleteTask(context.Background(), "j1", "nope")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancelSchedule(t *testing.T) {
	h := newHarness(t, nil, chainJob(t, "j1", nil))
	ctx := context.Background()
	res, err := h.svc.CreateOptimizedSchedule(ctx, request("j1"))
	require.NoError(t, err)

	cancelled, err := h.svc.CancelSchedule(ctx, res.Schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleCancelled, cancelled.Status)
	assert.Equal(t, 2, cancelled.Version)

	_, err = h.svc.CancelSchedule(ctx, res.Schedule.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.CancelSchedule(ctx, "missing")
	var nf *ScheduleNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "schedule_not_found", ErrorCode(err))
}

func TestRescheduleJob(t *testing.T) {
	h := newHarness(t, nil, chainJob(t, "j1", nil), chainJob(t, "j2", nil))
	ctx := context.Background()
	res, err := h.svc.CreateOptimizedSchedule(ctx, request("j1", "j2"))
	require.NoError(t, err)
	tuesday := monday0700.AddDate(0, 0, 1)

	out, err := h.svc.RescheduleJob(ctx, "j1", tuesday, res.Schedule.ID)
	require.NoError(t, err)
	require.Len(t, out.Allocations, 3)
	assert.Empty(t, out.Violations)

	stored, err := h.svc.GetSchedule(ctx, res.Schedule.ID)
	require.NoError(t, err)
	a, ok := stored.Assignment("j1-10")
	require.True(t, ok)
	assert.False(t, a.Window.Start.Before(tuesday))
	assert.Len(t, stored.Assignments, 6)
	assert.Equal(t, 2, stored.Version)

	preview, err := h.svc.RescheduleJob(ctx, "j2", tuesday, "")
	require.NoError(t, err)
	assert.Len(t, preview.Allocations, 3)
	assert.Empty(t, preview.ScheduleID)

	_, err = h.svc.RescheduleJob(ctx, "ghost", tuesday, "")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = h.svc.RescheduleJob(ctx, "j1", time.Time{}, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConflictsOfCapacity(t *testing.T) {
	w := func(h1, h2 int) domain.TimeWindow {
		return domain.TimeWindow{Start: monday0700.Add(time.Duration(h1) * time.Hour), End: monday0700.Add(time.Duration(h2) * time.Hour)}
	}
	uses := []resourceUse{{"a", w(0, 2)}, {"b", w(1, 3)}, {"c", w(1, 2)}}

	pairs := conflictsOf("machine", "m1", 1, uses, w(0, 8))
	assert.Len(t, pairs, 3)

	over := conflictsOf("machine", "m1", 2, uses, w(0, 8))
	require.Len(t, over, 1)
	assert.Equal(t, []string{"a", "b", "c"}, over[0].TaskIDs)
	assert.Equal(t, w(1, 2), over[0].Window)

	assert.Empty(t, conflictsOf("machine", "m1", 1, uses, w(3, 5)))
}
