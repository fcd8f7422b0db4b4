package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memstore"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

var monday = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

func newAllocator(prefs Preferences, machines []domain.Machine, operators []domain.Operator) *Allocator {
	return NewAllocator(memstore.NewMachineStore(machines...), memstore.NewOperatorStore(operators...), domain.DefaultCalendar(), prefs, zerolog.Nop())
}

func welder(id string, level int, hourly float64) domain.Operator {
	return domain.Operator{ID: id, Status: domain.OperatorAvailable, HourlyRate: hourly,
		Skills: []domain.SkillProficiency{{SkillType: "welding", Level: level}}}
}

func weldTask(id string, seq int, machines ...string) *domain.Task {
	t := &domain.Task{ID: id, SequenceInJob: seq, TaskType: "weld", RequiredOperatorCount: 1,
		SkillRequirements: []domain.SkillRequirement{{SkillType: "welding", MinimumLevel: 2}}}
	for _, m := range machines {
		t.MachineOptions = append(t.MachineOptions, domain.MachineOption{MachineID: m, ProcessingDuration: 60, SetupDuration: 10, RequiresOperatorFullDuration: true})
	}
	return t
}

func TestAllocateTaskPicksFasterMachine(t *testing.T) {
	machines := []domain.Machine{
		{ID: "m1", Capabilities: []string{"weld"}, ProcessingSpeedMultiplier: 1},
		{ID: "m2", Capabilities: []string{"weld"}, ProcessingSpeedMultiplier: 1.5},
	}
	a := newAllocator(DefaultPreferences(), machines, []domain.Operator{welder("o1", 2, 30)})

	got, err := a.AllocateTask(context.Background(), "j1", weldTask("t1", 10, "m1", "m2"), monday, nil, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, "m2", got.MachineID)
	assert.Equal(t, []string{"o1"}, got.OperatorIDs)
	assert.Equal(t, monday, got.Window.Start)
	assert.Equal(t, domain.Duration(70), got.Window.Duration())
	assert.Contains(t, got.Reasoning, "machine m2")
}

func TestAllocateTaskMachineUnavailable(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}, Status: domain.MachineMaintenance}}
	a := newAllocator(DefaultPreferences(), machines, []domain.Operator{welder("o1", 2, 30)})

	_, err := a.AllocateTask(context.Background(), "j1", weldTask("t1", 10, "m1"), monday, nil, Exclusions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMachineUnavailable))
	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "t1", ue.TaskID)
}

func TestAllocateTaskOperatorUnavailable(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}}
	a := newAllocator(DefaultPreferences(), machines, []domain.Operator{welder("o1", 1, 30)})

	_, err := a.AllocateTask(context.Background(), "j1", weldTask("t1", 10, "m1"), monday, nil, Exclusions{})
	assert.True(t, errors.Is(err, ErrOperatorUnavailable), "got %v", err)
}

func TestOperatorScoringPreferences(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}}
	ops := []domain.Operator{welder("cheap", 2, 12), welder("expert", 3, 60)}
	task := weldTask("t1", 10, "m1")

	got, err := newAllocator(Preferences{PreferLowestCost: true}, machines, ops).
		AllocateTask(context.Background(), "j1", task, monday, nil, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cheap"}, got.OperatorIDs)

	got, err = newAllocator(Preferences{PreferHighestSkill: true, PreferLowestCost: true}, machines, ops).
		AllocateTask(context.Background(), "j1", task, monday, nil, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"expert"}, got.OperatorIDs)
}

func TestAllocateJobRespectsPrecedenceAndBookings(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}}
	a := newAllocator(DefaultPreferences(), machines, []domain.Operator{welder("o1", 2, 30)})

	job, err := domain.NewJob("j1", "J-1", domain.PriorityNormal, 1, nil, monday)
	require.NoError(t, err)
	t1, t2 := weldTask("t1", 10, "m1"), weldTask("t2", 20, "m1")
	t2.PredecessorIDs = []string{"t1"}
	require.NoError(t, job.AddTask(t1))
	require.NoError(t, job.AddTask(t2))

	bookings := NewBookings(domain.TimeWindow{Start: monday, End: monday.Add(48 * time.Hour)})
	allocs, err := a.AllocateJob(context.Background(), job, monday, bookings)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.False(t, allocs[1].Window.Start.Before(allocs[0].Window.End))
	assert.Len(t, bookings.MachineWindows("m1"), 2)
}

func TestAllocationAvoidsLunchForAttendedWork(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}}
	a := newAllocator(DefaultPreferences(), machines, []domain.Operator{welder("o1", 2, 30)})

	got, err := a.AllocateTask(context.Background(), "j1", weldTask("t1", 10, "m1"), monday.Add(4*time.Hour), nil, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, monday.Add(5*time.Hour+30*time.Minute), got.Window.Start)
}

func TestAllocationGatesAttendedWorkWithoutOperators(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}}
	a := newAllocator(DefaultPreferences(), machines, nil)
	task := weldTask("t1", 10, "m1")
	task.RequiredOperatorCount, task.SkillRequirements = 0, nil

	saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	got, err := a.AllocateTask(context.Background(), "j1", task, saturday, nil, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 7, 0, 0, 0, time.UTC), got.Window.Start)
	assert.Empty(t, got.OperatorIDs)
}

func TestConcurrentAllocationsNeverDoubleBook(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}}
	ops := []domain.Operator{welder("o1", 2, 30), welder("o2", 2, 30), welder("o3", 2, 30)}
	a := newAllocator(DefaultPreferences(), machines, ops)
	bookings := NewBookings(domain.TimeWindow{Start: monday, End: monday.Add(72 * time.Hour)})

	var wg sync.WaitGroup
	results := make([]ResourceAllocation, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := a.AllocateTask(context.Background(), "j", weldTask(string(rune('a'+i)), 10, "m1"), monday, bookings, Exclusions{})
			if err == nil {
				results[i] = r
			}
		}(i)
	}
	wg.Wait()

	windows := domain.IntervalSet{}
	for _, r := range results {
		if r.MachineID != "" {
			windows = append(windows, r.Window)
		}
	}
	assert.Equal(t, 1, windows.MaxConcurrent())
}

func TestFindAlternativeAllocation(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}}
	ops := []domain.Operator{welder("novice", 1, 10), welder("o2", 2, 30)}
	a := newAllocator(DefaultPreferences(), machines, ops)

	job, err := domain.NewJob("j1", "J-1", domain.PriorityNormal, 1, nil, monday)
	require.NoError(t, err)
	require.NoError(t, job.AddTask(weldTask("t1", 10, "m1")))

	prev := ResourceAllocation{TaskID: "t1", MachineID: "m1", OperatorIDs: []string{"novice"}}
	alt, err := a.FindAlternativeAllocation(context.Background(), job, prev, monday, nil)
	require.NoError(t, err)
	require.NotNil(t, alt)
	assert.Equal(t, []string{"o2"}, alt.OperatorIDs)

	prev.OperatorIDs = []string{"o2"}
	alt, err = a.FindAlternativeAllocation(context.Background(), job, prev, monday, nil)
	require.NoError(t, err)
	assert.Nil(t, alt)

	alt, err = a.FindAlternativeAllocation(context.Background(), job, ResourceAllocation{TaskID: "missing"}, monday, nil)
	require.NoError(t, err)
	assert.Nil(t, alt)
}

func TestValidateResourceAvailabilityAndStats(t *testing.T) {
	machines := []domain.Machine{{ID: "m1", Capabilities: []string{"weld"}}, {ID: "m2", Status: domain.MachineOffline}}
	a := newAllocator(DefaultPreferences(), machines, []domain.Operator{welder("o1", 2, 30)})
	horizon := domain.TimeWindow{Start: monday, End: monday.Add(10 * time.Hour)}
	bookings := NewBookings(horizon)

	_, err := a.AllocateTask(context.Background(), "j1", weldTask("t1", 10, "m1"), monday, bookings, Exclusions{})
	require.NoError(t, err)

	w := domain.TimeWindow{Start: monday, End: monday.Add(30 * time.Minute)}
	avail, err := a.ValidateResourceAvailability(context.Background(), []string{"m1", "m2", "ghost"}, []string{"o1"}, w, bookings)
	require.NoError(t, err)
	assert.False(t, avail.Machines["m1"])
	assert.False(t, avail.Machines["m2"])
	assert.False(t, avail.Machines["ghost"])
	assert.False(t, avail.Operators["o1"])
	assert.False(t, avail.AllAvailable)

	stats, err := a.GetResourceUtilizationStats(context.Background(), horizon, bookings)
	require.NoError(t, err)
	assert.InDelta(t, 70.0/600.0, stats.Machines["m1"], 1e-9)
	assert.Zero(t, stats.Machines["m2"])
	assert.InDelta(t, 70.0/600.0, stats.Operators["o1"], 1e-9)
}
