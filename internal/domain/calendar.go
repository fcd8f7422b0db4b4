package domain

import (
	"fmt"
	"time"
)

// ClockTime est une heure de la journée en minutes depuis minuit.
type ClockTime int

func Clock(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

// ParseClock accepte "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return Clock(h, m), nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

func clockOf(t time.Time) ClockTime { return Clock(t.Hour(), t.Minute()) }

// ClockRange est une plage horaire [Start, End) dans une journée.
type ClockRange struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

func (r ClockRange) Valid() bool { return r.Start < r.End }

func (r ClockRange) contains(c ClockTime) bool { return c >= r.Start && c < r.End }

// BusinessCalendar décrit les heures ouvrées par jour de semaine, les jours fériés
// et une pause déjeuner optionnelle. Les heures sont interprétées dans Location.
type BusinessCalendar struct {
	Hours    map[time.Weekday]ClockRange
	Holidays map[string]struct{}
	Lunch    *ClockRange
	Location *time.Location
}

const dateLayout = "2006-01-02"

// maxCalendarScanDays borne les recherches de créneau.
const maxCalendarScanDays = 400

// DefaultCalendar: lundi-vendredi 07:00-16:00, pause 12:00-12:30.
func DefaultCalendar() BusinessCalendar {
	day := ClockRange{Start: Clock(7, 0), End: Clock(16, 0)}
	return BusinessCalendar{
		Hours: map[time.Weekday]ClockRange{
			time.Monday:    day,
			time.Tuesday:   day,
			time.Wednesday: day,
			time.Thursday:  day,
			time.Friday:    day,
		},
		Holidays: map[string]struct{}{},
		Lunch:    &ClockRange{Start: Clock(12, 0), End: Clock(12, 30)},
		Location: time.UTC,
	}
}

func (c BusinessCalendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c *BusinessCalendar) AddHoliday(day time.Time) {
	if c.Holidays == nil {
		c.Holidays = map[string]struct{}{}
	}
	c.Holidays[day.In(c.loc()).Format(dateLayout)] = struct{}{}
}

func (c BusinessCalendar) IsHoliday(t time.Time) bool {
	_, ok := c.Holidays[t.In(c.loc()).Format(dateLayout)]
	return ok
}

func (c BusinessCalendar) IsLunch(t time.Time) bool {
	if c.Lunch == nil {
		return false
	}
	return c.Lunch.contains(clockOf(t.In(c.loc())))
}

// IsWorkingTime: jour ouvré, dans les heures, hors pause, hors férié.
func (c BusinessCalendar) IsWorkingTime(t time.Time) bool {
	t = t.In(c.loc())
	if c.IsHoliday(t) {
		return false
	}
	hours, ok := c.Hours[t.Weekday()]
	if !ok || !hours.Valid() {
		return false
	}
	return hours.contains(clockOf(t)) && !c.IsLunch(t)
}

// blocks renvoie les plages travaillées d'une journée, pause déjeuner retirée.
func (c BusinessCalendar) blocks(day time.Time) []TimeWindow {
	day = day.In(c.loc())
	if c.IsHoliday(day) {
		return nil
	}
	hours, ok := c.Hours[day.Weekday()]
	if !ok || !hours.Valid() {
		return nil
	}
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc())
	at := func(ct ClockTime) time.Time { return midnight.Add(time.Duration(ct) * time.Minute) }

	ranges := []ClockRange{hours}
	if c.Lunch != nil && c.Lunch.Valid() && c.Lunch.Start < hours.End && c.Lunch.End > hours.Start {
		ranges = ranges[:0]
		if c.Lunch.Start > hours.Start {
			ranges = append(ranges, ClockRange{Start: hours.Start, End: c.Lunch.Start})
		}
		if c.Lunch.End < hours.End {
			ranges = append(ranges, ClockRange{Start: c.Lunch.End, End: hours.End})
		}
	}
	out := make([]TimeWindow, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, TimeWindow{Start: at(r.Start), End: at(r.End)})
	}
	return out
}

// WorkingMinutes renvoie le nombre de minutes travaillées du jour de t.
func (c BusinessCalendar) WorkingMinutes(day time.Time) int {
	total := 0
	for _, b := range c.blocks(day) {
		total += b.Duration().Minutes()
	}
	return total
}

// NextWorkingTime renvoie le premier instant travaillé >= t.
func (c BusinessCalendar) NextWorkingTime(t time.Time) (time.Time, bool) {
	start, ok := c.EarliestFit(t, 0)
	return start, ok
}

// FitsWindow indique si [start, end) tient dans une seule plage travaillée.
func (c BusinessCalendar) FitsWindow(start, end time.Time) bool {
	if !start.Before(end) {
		return false
	}
	for _, b := range c.blocks(start) {
		if b.Contains(TimeWindow{Start: start, End: end}) {
			return true
		}
	}
	return false
}

// EarliestFit cherche le premier début >= t tel que [début, début+d) tienne dans
// une plage travaillée. Avec d == 0, renvoie le premier instant travaillé.
func (c BusinessCalendar) EarliestFit(t time.Time, d Duration) (time.Time, bool) {
	t = t.In(c.loc())
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc())
	for i := 0; i < maxCalendarScanDays; i++ {
		for _, b := range c.blocks(day) {
			candidate := b.Start
			if t.After(candidate) {
				candidate = t
			}
			if d == 0 {
				if candidate.Before(b.End) {
					return candidate, true
				}
				continue
			}
			if !candidate.Add(d.Std()).After(b.End) {
				return candidate, true
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// LongestBlock renvoie la plus longue plage travaillée d'une semaine type.
func (c BusinessCalendar) LongestBlock() Duration {
	var longest Duration
	for wd, hours := range c.Hours {
		if !hours.Valid() {
			continue
		}
		// une date quelconque tombant ce jour de semaine, hors fériés
		ref := time.Date(2001, 1, 1, 0, 0, 0, 0, c.loc()) // lundi
		ref = ref.AddDate(0, 0, (int(wd)+6)%7)
		probe := c
		probe.Holidays = nil
		for _, b := range probe.blocks(ref) {
			if d := b.Duration(); d > longest {
				longest = d
			}
		}
	}
	return longest
}
