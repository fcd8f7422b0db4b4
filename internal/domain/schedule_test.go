package domain

import (
	"errors"
	"testing"
	"time"
)

func TestSchedule_LifecycleAndFreeze(t *testing.T) {
	s, err := NewSchedule("s1", "", TimeWindow{Start: at(1, 7, 0), End: at(5, 16, 0)}, []string{"j1"}, "tester", at(1, 6, 0))
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	a := Assignment{TaskID: "t1", JobID: "j1", MachineID: "m1", Window: TimeWindow{Start: at(1, 8, 0), End: at(1, 9, 0)}}
	if err := s.Assign(a); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := s.Activate(at(1, 6, 0)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("DRAFT -> ACTIVE must fail, got %v", err)
	}
	if err := s.Publish(at(1, 6, 0)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Assign(a); !errors.Is(err, ErrScheduleNotEditable) {
		t.Fatalf("expected ErrScheduleNotEditable, got %v", err)
	}
	if err := s.Activate(at(1, 7, 0)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := s.Cancel(at(1, 7, 0)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ACTIVE -> CANCELLED must fail, got %v", err)
	}
	if err := s.Complete(at(2, 7, 0)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestSchedule_MakespanAndTardiness(t *testing.T) {
	s, _ := NewSchedule("s1", "x", TimeWindow{Start: at(1, 7, 0), End: at(5, 16, 0)}, nil, "", at(1, 6, 0))
	_ = s.Assign(Assignment{TaskID: "a", JobID: "j1", MachineID: "m1", Window: TimeWindow{Start: at(1, 7, 0), End: at(1, 8, 0)}})
	_ = s.Assign(Assignment{TaskID: "b", JobID: "j1", MachineID: "m1", Window: TimeWindow{Start: at(1, 8, 0), End: at(1, 10, 0)}})
	if got := s.Makespan(); got != 180 {
		t.Fatalf("expected makespan 180, got %d", got)
	}
	due := map[string]time.Time{"j1": at(1, 9, 0)}
	if got := s.Tardiness(due); got != 60 {
		t.Fatalf("expected tardiness 60, got %d", got)
	}
	if tl := s.MachineTimeline("m1"); len(tl) != 2 || tl[0].TaskID != "a" {
		t.Fatalf("unexpected timeline %+v", tl)
	}
}

func TestAssignment_OperatorWindowUnattended(t *testing.T) {
	a := Assignment{Window: TimeWindow{Start: at(1, 8, 0), End: at(1, 10, 0)}, SetupDuration: 15, OperatorIDs: []string{"o1"}}
	w, ok := a.OperatorWindow()
	if !ok || w.Duration() != 15 {
		t.Fatalf("expected 15 min setup window, got %v %v", w, ok)
	}
	a.Attended = true
	w, _ = a.OperatorWindow()
	if w.Duration() != 120 {
		t.Fatalf("expected full window, got %d", w.Duration())
	}
}

func TestIntervalSet_MaxConcurrent(t *testing.T) {
	set := IntervalSet{
		{Start: at(1, 8, 0), End: at(1, 9, 0)},
		{Start: at(1, 8, 30), End: at(1, 9, 30)},
		{Start: at(1, 9, 0), End: at(1, 10, 0)},
	}
	if got := set.MaxConcurrent(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestEventKind_Topics(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range EventKinds() {
		topic := k.Topic()
		if topic == "" || seen[topic] {
			t.Fatalf("kind %d has invalid or duplicate topic %q", k, topic)
		}
		seen[topic] = true
	}
	if EventKind(0).Valid() || EventKind(99).Topic() != "" {
		t.Fatalf("unknown kinds must be rejected")
	}
}
