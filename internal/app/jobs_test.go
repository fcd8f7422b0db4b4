package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memorybus"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memstore"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

func jobRequest() CreateJobRequest {
	opt := []domain.MachineOption{{MachineID: "m1", ProcessingDuration: 60, SetupDuration: 10, RequiresOperatorFullDuration: true}}
	return CreateJobRequest{
		ID: "j1", JobNumber: "J-1", Priority: domain.PriorityHigh,
		Tasks: []CreateTaskRequest{
			{Sequence: 10, TaskType: "weld", MachineOptions: opt, RequiredOperatorCount: 1},
			{Sequence: 20, TaskType: "weld", MachineOptions: opt, Predecessors: []int{10}, Critical: true},
		},
	}
}

func TestJobService_CreateResolvesPredecessors(t *testing.T) {
	bus := memorybus.New(zerolog.Nop())
	events, cancel := bus.Subscribe(domain.EventJobStatusChanged)
	defer cancel()
	svc := NewJobService(memstore.NewJobStore(), bus)

	job, err := svc.Create(context.Background(), jobRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, job.Quantity)
	require.Len(t, job.Tasks, 2)
	assert.Equal(t, "j1-10", job.Tasks[0].ID)
	assert.Equal(t, domain.TaskReady, job.Tasks[0].Status)
	assert.Equal(t, []string{"j1-10"}, job.Tasks[1].PredecessorIDs)
	assert.Len(t, events, 1)

	_, err = svc.Create(context.Background(), jobRequest())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBuildJob_Rejects(t *testing.T) {
	req := jobRequest()
	req.Tasks[1].Predecessors = []int{99}
	_, err := BuildJob(req, monday0700)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = jobRequest()
	req.Tasks[0].MachineOptions = nil
	_, err = BuildJob(req, monday0700)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = jobRequest()
	req.Tasks[1].Sequence = 10
	_, err = BuildJob(req, monday0700)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = jobRequest()
	req.Tasks[0].Skills = []domain.SkillRequirement{{SkillType: "welding", MinimumLevel: 4}}
	_, err = BuildJob(req, monday0700)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestJobService_Transition(t *testing.T) {
	svc := NewJobService(memstore.NewJobStore(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, jobRequest())
	require.NoError(t, err)

	job, err := svc.Transition(ctx, "j1", domain.JobOnHold)
	require.NoError(t, err)
	assert.Equal(t, domain.JobOnHold, job.Status)

	_, err = svc.Transition(ctx, "j1", domain.JobCompleted)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Transition(ctx, "ghost", domain.JobReleased)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobService_AnalyzeAndQueue(t *testing.T) {
	svc := NewJobService(memstore.NewJobStore(), nil)
	svc.now = func() time.Time { return monday0700 }
	ctx := context.Background()

	opt := []domain.MachineOption{{MachineID: "m1", ProcessingDuration: 60, SetupDuration: 10, RequiresOperatorFullDuration: true}}
	due := monday0700.AddDate(0, 0, 1)
	crit := CreateJobRequest{
		ID: "jc", JobNumber: "J-C", DueDate: &due,
		Tasks: []CreateTaskRequest{
			{Sequence: 10, TaskType: "weld", MachineOptions: opt, Critical: true, CriticalPath: true},
			{Sequence: 20, TaskType: "weld", MachineOptions: opt, Critical: true, Predecessors: []int{10}},
			{Sequence: 40, TaskType: "weld", MachineOptions: opt},
		},
	}
	_, err := svc.Create(ctx, crit)
	require.NoError(t, err)
	_, err = svc.Create(ctx, jobRequest())
	require.NoError(t, err)

	a, err := svc.Analyze(ctx, "jc")
	require.NoError(t, err)
	require.Len(t, a.CriticalSequences, 1)
	assert.Equal(t, []string{"jc-10", "jc-20"}, a.CriticalSequences[0].TaskIDs)
	assert.Equal(t, []string{"jc-10"}, a.CriticalPathTaskIDs)
	assert.Equal(t, 70, a.CriticalPathMinutes)
	assert.Greater(t, a.CriticalityScore, 0.0)
	assert.LessOrEqual(t, a.CriticalityScore, 1.0)

	queue, err := svc.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "jc", queue[0].ID)

	_, err = svc.Analyze(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
