package allocation

import (
	"errors"
	"sync"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

var errBookingTaken = errors.New("resource already booked")

// Bookings est la table de réservations par ressource. Toute réservation
// re-vérifie la disponibilité sous verrou, ce qui sérialise les affectations
// concurrentes sur une même ressource.
type Bookings struct {
	mu         sync.Mutex
	horizon    domain.TimeWindow
	machines   map[string][]domain.TimeWindow
	operators  map[string][]domain.TimeWindow
	capacities map[string]int
}

func NewBookings(horizon domain.TimeWindow) *Bookings {
	return &Bookings{
		horizon:    horizon,
		machines:   map[string][]domain.TimeWindow{},
		operators:  map[string][]domain.TimeWindow{},
		capacities: map[string]int{},
	}
}

// BookingsFromSchedule reprend les affectations existantes, en ignorant
// éventuellement certaines tâches (celles qu'on va replanifier).
func BookingsFromSchedule(s *domain.Schedule, skipTasks ...string) *Bookings {
	skip := map[string]bool{}
	for _, id := range skipTasks {
		skip[id] = true
	}
	b := NewBookings(s.Horizon)
	for _, a := range s.SortedAssignments() {
		if skip[a.TaskID] {
			continue
		}
		b.machines[a.MachineID] = append(b.machines[a.MachineID], a.Window)
		if w, ok := a.OperatorWindow(); ok {
			for _, op := range a.OperatorIDs {
				b.operators[op] = append(b.operators[op], w)
			}
		}
	}
	return b
}

func (b *Bookings) Horizon() domain.TimeWindow { return b.horizon }

// window par défaut pour les calculs de charge quand l'horizon est vide.
func (b *Bookings) loadWindow(from time.Time) domain.TimeWindow {
	if !b.horizon.IsZero() {
		return b.horizon
	}
	return domain.TimeWindow{Start: from, End: from.Add(24 * time.Hour)}
}

// machineBlocked renvoie la première fin de réservation qui libère la machine
// si w dépasse sa capacité.
func (b *Bookings) machineBlocked(id string, capacity int, w domain.TimeWindow) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return blocked(b.machines[id], capacity, w)
}

func (b *Bookings) operatorBlocked(id string, w domain.TimeWindow) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return blocked(b.operators[id], 1, w)
}

func blocked(existing []domain.TimeWindow, capacity int, w domain.TimeWindow) (time.Time, bool) {
	if capacity <= 0 {
		capacity = 1
	}
	overlapping := domain.IntervalSet{w}
	var release time.Time
	for _, e := range existing {
		if !e.Overlaps(w) {
			continue
		}
		overlapping = append(overlapping, e)
		if release.IsZero() || e.End.Before(release) {
			release = e.End
		}
	}
	if len(overlapping) == 1 || overlapping.MaxConcurrent() <= capacity {
		return time.Time{}, false
	}
	return release, true
}

// reserve re-vérifie puis enregistre la machine et les opérateurs d'une
// affectation. Rien n'est enregistré en cas de conflit.
func (b *Bookings) reserve(machineID string, capacity int, w domain.TimeWindow, operatorIDs []string, opWindow domain.TimeWindow, staffed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := blocked(b.machines[machineID], capacity, w); busy {
		return errBookingTaken
	}
	if staffed {
		for _, op := range operatorIDs {
			if _, busy := blocked(b.operators[op], 1, opWindow); busy {
				return errBookingTaken
			}
		}
	}
	b.machines[machineID] = append(b.machines[machineID], w)
	b.capacities[machineID] = capacity
	if staffed {
		for _, op := range operatorIDs {
			b.operators[op] = append(b.operators[op], opWindow)
		}
	}
	return nil
}

func (b *Bookings) MachineWindows(id string) []domain.TimeWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.TimeWindow(nil), b.machines[id]...)
}

func (b *Bookings) OperatorWindows(id string) []domain.TimeWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.TimeWindow(nil), b.operators[id]...)
}

func operatorLoad(windows []domain.TimeWindow, span domain.TimeWindow) float64 {
	total := span.Duration()
	if total == 0 {
		return 0
	}
	var used domain.Duration
	for _, w := range windows {
		if part, ok := span.Intersection(w); ok {
			used += part.Duration()
		}
	}
	if u := float64(used) / float64(total); u < 1 {
		return u
	}
	return 1
}
