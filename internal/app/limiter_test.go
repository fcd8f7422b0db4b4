package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSolveLimiter_QueuesBeyondLimit(t *testing.T) {
	l := NewSolveLimiter(1)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = l.Acquire(ctx)
		close(acquired)
	}()
	waitFor(t, func() bool { return l.Stats().Waiting == 1 })

	select {
	case <-acquired:
		t.Fatalf("second solve must wait")
	default:
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatalf("second solve should have started")
	}
	st := l.Stats()
	if st.InFlight != 1 || st.Waiting != 0 || st.Completed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	l.Release()
}

func TestSolveLimiter_RaisingLimitWakesWaiters(t *testing.T) {
	l := NewSolveLimiter(1)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Acquire(ctx)
		}()
	}
	waitFor(t, func() bool { return l.Stats().Waiting == 2 })

	l.SetLimit(3)
	wg.Wait()
	if st := l.Stats(); st.InFlight != 3 || st.Limit != 3 {
		t.Fatalf("expected 3 solves in flight, got %+v", st)
	}
	for i := 0; i < 3; i++ {
		l.Release()
	}
	if st := l.Stats(); st.InFlight != 0 || st.Completed != 3 {
		t.Fatalf("unexpected stats after release %+v", st)
	}
}

func TestSolveLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewSolveLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if st := l.Stats(); st.Waiting != 0 || st.InFlight != 1 {
		t.Fatalf("cancelled waiter must leave no trace: %+v", st)
	}
	l.Release()
}

func TestSolveLimiter_RunReleasesOnError(t *testing.T) {
	l := NewSolveLimiter(0)
	boom := errors.New("boom")
	err := l.Run(context.Background(), func() error {
		if st := l.Stats(); st.InFlight != 1 || st.Limit != 1 {
			t.Fatalf("unexpected stats inside Run %+v", st)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if st := l.Stats(); st.InFlight != 0 {
		t.Fatalf("Run must release, got %+v", st)
	}

	l.SetLimit(-3)
	l.Release()
	if st := l.Stats(); st.Limit != 1 || st.InFlight != 0 {
		t.Fatalf("limit floor and release without acquire: %+v", st)
	}
}
