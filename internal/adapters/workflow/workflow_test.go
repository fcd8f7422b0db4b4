package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memstore"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

func newJob(t *testing.T, id string) *domain.Job {
	t.Helper()
	j, err := domain.NewJob(id, "J-"+id, domain.PriorityNormal, 1, nil, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return j
}

func TestAdvance_StepsThroughStatuses(t *testing.T) {
	ctx := context.Background()
	jobs := memstore.NewJobStore(newJob(t, "j1"))
	svc := New(jobs, zerolog.Nop())

	for _, want := range []domain.JobStatus{domain.JobReleased, domain.JobInProgress, domain.JobInProgress} {
		st, err := svc.Advance(ctx, "j1", "s1")
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if st.Status != want {
			t.Fatalf("expected %s, got %s", want, st.Status)
		}
	}
	stored, _ := jobs.Get(ctx, "j1")
	if stored.Status != domain.JobInProgress {
		t.Fatalf("expected persisted IN_PROGRESS, got %s", stored.Status)
	}
	if id, ok := svc.LaunchedBy("j1"); !ok || id != "s1" {
		t.Fatalf("expected job launched by s1, got %q", id)
	}
	st, err := svc.State(ctx, "j1")
	if err != nil || st.Stage != "in_progress" {
		t.Fatalf("unexpected state %+v err=%v", st, err)
	}
}

func TestAdvance_RejectsTerminalAndMissingJobs(t *testing.T) {
	ctx := context.Background()
	done := newJob(t, "done")
	done.Status = domain.JobCancelled
	svc := New(memstore.NewJobStore(done), zerolog.Nop())

	if _, err := svc.Advance(ctx, "done", "s1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.State(ctx, "ghost"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
