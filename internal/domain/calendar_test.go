package domain

import (
	"testing"
	"time"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func TestCalendar_IsWorkingTime(t *testing.T) {
	cal := DefaultCalendar()
	cal.AddHoliday(at(3, 0, 0))

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday morning", at(1, 8, 0), true},
		{"before opening", at(1, 6, 59), false},
		{"lunch", at(1, 12, 15), false},
		{"after lunch", at(1, 12, 30), true},
		{"closing", at(1, 16, 0), false},
		{"holiday", at(3, 9, 0), false},
		{"saturday", at(6, 9, 0), false},
	}
	for _, tc := range cases {
		if got := cal.IsWorkingTime(tc.t); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestCalendar_WorkingMinutes(t *testing.T) {
	cal := DefaultCalendar()
	if got := cal.WorkingMinutes(at(1, 0, 0)); got != 510 {
		t.Fatalf("expected 510, got %d", got)
	}
	if got := cal.WorkingMinutes(at(6, 0, 0)); got != 0 {
		t.Fatalf("expected 0 on saturday, got %d", got)
	}
}

func TestCalendar_NextWorkingTimeSkipsWeekend(t *testing.T) {
	cal := DefaultCalendar()
	next, ok := cal.NextWorkingTime(at(5, 17, 0))
	if !ok {
		t.Fatalf("expected a working time")
	}
	if !next.Equal(at(8, 7, 0)) {
		t.Fatalf("expected monday 07:00, got %s", next)
	}
}

func TestCalendar_EarliestFitAvoidsLunch(t *testing.T) {
	cal := DefaultCalendar()
	start, ok := cal.EarliestFit(at(1, 11, 30), 60)
	if !ok {
		t.Fatalf("expected a fit")
	}
	if !start.Equal(at(1, 12, 30)) {
		t.Fatalf("expected 12:30, got %s", start)
	}
	if !cal.FitsWindow(start, start.Add(time.Hour)) {
		t.Fatalf("fit must be accepted by FitsWindow")
	}
	if cal.FitsWindow(at(1, 11, 30), at(1, 12, 30)) {
		t.Fatalf("window across lunch must be rejected")
	}
}

func TestCalendar_EarliestFitTooLong(t *testing.T) {
	cal := DefaultCalendar()
	if _, ok := cal.EarliestFit(at(1, 7, 0), Duration(cal.LongestBlock()+1)); ok {
		t.Fatalf("expected no fit for a task longer than any block")
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:30")
	if err != nil || c != Clock(7, 30) {
		t.Fatalf("unexpected: %v %v", c, err)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Fatalf("expected error")
	}
}
