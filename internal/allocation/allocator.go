// Package allocation choisit machine et opérateurs tâche par tâche, sans
// recherche globale: planification manuelle, replanification et repli quand
// l'optimiseur n'a pas de solution.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

var (
	ErrMachineUnavailable  = errors.New("no machine available")
	ErrOperatorUnavailable = errors.New("not enough operators available")
)

// UnavailableError précise la tâche et la ressource manquante.
type UnavailableError struct {
	TaskID   string
	Resource string
	Reason   string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("task %s: %s unavailable: %s", e.TaskID, e.Resource, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

type Preferences struct {
	PreferLowestCost   bool `json:"preferLowestCost" mapstructure:"prefer_lowest_cost"`
	PreferHighestSkill bool `json:"preferHighestSkill" mapstructure:"prefer_highest_skill"`
	LoadBalancing      bool `json:"loadBalancing" mapstructure:"load_balancing"`
}

func DefaultPreferences() Preferences {
	return Preferences{PreferLowestCost: true, LoadBalancing: true}
}

const (
	machineBaseScore     = 100.0
	speedBonusFactor     = 50.0
	attendanceBonus      = 10.0
	machineLoadPenalty   = 40.0
	skillMatchBase       = 100.0
	skillOverqualified   = 10.0
	highestSkillFactor   = 30.0
	costBase             = 50.0
	operatorLoadPenalty  = 20.0
	costTiebreakWeight   = 0.1
	maxPlacementAttempts = 2000
	maxReserveRetries    = 3
	shiftProbeStep       = 30 * time.Minute
)

type ResourceAllocation struct {
	TaskID        string            `json:"taskId"`
	JobID         string            `json:"jobId"`
	MachineID     string            `json:"machineId"`
	OperatorIDs   []string          `json:"operatorIds"`
	Score         float64           `json:"score"`
	Reasoning     string            `json:"reasoning"`
	Window        domain.TimeWindow `json:"window"`
	SetupDuration domain.Duration   `json:"setupMinutes"`
	Attended      bool              `json:"attended"`
}

// Assignment convertit l'allocation en affectation de planning.
func (r ResourceAllocation) Assignment(id string) domain.Assignment {
	return domain.Assignment{
		ID:            id,
		TaskID:        r.TaskID,
		JobID:         r.JobID,
		MachineID:     r.MachineID,
		OperatorIDs:   append([]string(nil), r.OperatorIDs...),
		Window:        r.Window,
		SetupDuration: r.SetupDuration,
		Attended:      r.Attended,
	}
}

// Exclusions liste les ressources à ne pas proposer.
type Exclusions struct {
	Machines  map[string]bool
	Operators map[string]bool
}

func (e Exclusions) machine(id string) bool  { return e.Machines != nil && e.Machines[id] }
func (e Exclusions) operator(id string) bool { return e.Operators != nil && e.Operators[id] }

type Allocator struct {
	machines  ports.MachineRepository
	operators ports.OperatorRepository
	calendar  domain.BusinessCalendar
	prefs     Preferences
	logger    zerolog.Logger
}

func NewAllocator(machines ports.MachineRepository, operators ports.OperatorRepository, calendar domain.BusinessCalendar, prefs Preferences, logger zerolog.Logger) *Allocator {
	return &Allocator{
		machines:  machines,
		operators: operators,
		calendar:  calendar,
		prefs:     prefs,
		logger:    logger.With().Str("component", "allocation").Logger(),
	}
}

func (a *Allocator) Preferences() Preferences { return a.prefs }

type machineCandidate struct {
	machine domain.Machine
	option  domain.MachineOption
	score   float64
	why     []string
}

type operatorCandidate struct {
	operator domain.Operator
	score    float64
}

type placement struct {
	cand      machineCandidate
	window    domain.TimeWindow
	opWindow  domain.TimeWindow
	staffed   bool
	operators []operatorCandidate
}

// AllocateTask place une tâche au plus tôt après earliest et réserve ses
// ressources dans bookings (créé si nil).
func (a *Allocator) AllocateTask(ctx context.Context, jobID string, task *domain.Task, earliest time.Time, bookings *Bookings, excl Exclusions) (ResourceAllocation, error) {
	if bookings == nil {
		bookings = NewBookings(domain.TimeWindow{})
	}
	operators, err := a.operators.List(ctx)
	if err != nil {
		return ResourceAllocation{}, err
	}
	for attempt := 0; ; attempt++ {
		cands, err := a.machineCandidates(ctx, task, earliest, bookings, excl)
		if err != nil {
			return ResourceAllocation{}, err
		}
		best, err := a.bestPlacement(task, cands, operators, earliest, bookings, excl)
		if err != nil {
			return ResourceAllocation{}, err
		}
		opIDs := make([]string, len(best.operators))
		for i, o := range best.operators {
			opIDs[i] = o.operator.ID
		}
		err = bookings.reserve(best.cand.machine.ID, best.cand.machine.EffectiveCapacity(), best.window, opIDs, best.opWindow, best.staffed)
		if errors.Is(err, errBookingTaken) && attempt < maxReserveRetries {
			a.logger.Debug().Str("task", task.ID).Int("attempt", attempt).Msg("booking taken, retrying")
			continue
		}
		if err != nil {
			return ResourceAllocation{}, &UnavailableError{TaskID: task.ID, Resource: "machine", Reason: "resources booked concurrently", Err: ErrMachineUnavailable}
		}
		alloc := a.result(jobID, task, best, opIDs)
		a.logger.Debug().Str("task", task.ID).Str("machine", alloc.MachineID).Strs("operators", opIDs).Float64("score", alloc.Score).Msg("task allocated")
		return alloc, nil
	}
}

func (a *Allocator) machineCandidates(ctx context.Context, task *domain.Task, earliest time.Time, bookings *Bookings, excl Exclusions) ([]machineCandidate, error) {
	options := task.MachineOptions
	if len(options) == 0 {
		ms, err := a.machines.ListByCapability(ctx, task.TaskType)
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			options = append(options, domain.MachineOption{MachineID: m.ID, ProcessingDuration: task.PlannedDuration})
		}
	}

	span := bookings.loadWindow(earliest)
	var out []machineCandidate
	for _, opt := range options {
		if excl.machine(opt.MachineID) {
			continue
		}
		m, err := a.machines.Get(ctx, opt.MachineID)
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !m.IsSchedulable() || !m.CanPerform(task.TaskType) {
			continue
		}
		out = append(out, a.scoreMachine(task, m, opt, bookings.MachineWindows(m.ID), span))
	}
	if len(out) == 0 {
		return nil, &UnavailableError{TaskID: task.ID, Resource: "machine", Reason: "no capable machine available", Err: ErrMachineUnavailable}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].machine.ID < out[j].machine.ID
	})
	return out, nil
}

// scoreMachine: base + vitesse + adéquation "attended" - charge.
// Les tâches critiques doublent le bonus de vitesse.
func (a *Allocator) scoreMachine(task *domain.Task, m domain.Machine, opt domain.MachineOption, booked []domain.TimeWindow, span domain.TimeWindow) machineCandidate {
	c := machineCandidate{machine: m, option: opt, score: machineBaseScore, why: []string{"capable"}}
	speed := (m.SpeedMultiplier() - 1) * speedBonusFactor
	if task.IsCritical || task.IsCriticalPath {
		speed *= 2
	}
	if speed != 0 {
		c.score += speed
		c.why = append(c.why, fmt.Sprintf("speed x%.2f", m.SpeedMultiplier()))
	}
	if m.RequiresOperator == opt.RequiresOperatorFullDuration {
		c.score += attendanceBonus
		c.why = append(c.why, "attendance match")
	}
	if a.prefs.LoadBalancing {
		u := m.Utilization(span, booked)
		c.score -= u * machineLoadPenalty
		if u > 0 {
			c.why = append(c.why, fmt.Sprintf("utilization %.0f%%", u*100))
		}
	}
	return c
}

// bestPlacement essaie les machines par score décroissant; à score égal, la
// fin la plus tôt l'emporte.
func (a *Allocator) bestPlacement(task *domain.Task, cands []machineCandidate, operators []domain.Operator, earliest time.Time, bookings *Bookings, excl Exclusions) (placement, error) {
	var best *placement
	operatorShortage := false
	for _, c := range cands {
		p, ok, short := a.place(task, c, operators, earliest, bookings, excl)
		if short {
			operatorShortage = true
		}
		if !ok {
			continue
		}
		if best == nil || p.cand.score > best.cand.score || (p.cand.score == best.cand.score && p.window.End.Before(best.window.End)) {
			pp := p
			best = &pp
		}
	}
	if best == nil {
		if operatorShortage {
			return placement{}, &UnavailableError{TaskID: task.ID, Resource: "operator", Reason: fmt.Sprintf("fewer than %d eligible operators", task.OperatorCount()), Err: ErrOperatorUnavailable}
		}
		return placement{}, &UnavailableError{TaskID: task.ID, Resource: "machine", Reason: "no free slot within the calendar", Err: ErrMachineUnavailable}
	}
	return *best, nil
}

// place cherche le premier créneau où la machine et assez d'opérateurs sont
// libres. short vaut true si les compétences seules ne suffisent pas.
func (a *Allocator) place(task *domain.Task, c machineCandidate, operators []domain.Operator, earliest time.Time, bookings *Bookings, excl Exclusions) (p placement, ok bool, short bool) {
	required := domain.RequiredOperators(task, c.machine)
	total := c.option.TotalDuration()
	if total <= 0 {
		total = 1
	}
	// La fenêtre soumise au calendrier ne dépend pas du nombre d'opérateurs.
	gated := c.option.OperatorDuration()
	opDur := gated
	if required == 0 {
		opDur = 0
	}
	staffed := opDur > 0

	var eligible []domain.Operator
	if required > 0 {
		for _, o := range operators {
			if excl.operator(o.ID) || !o.IsActive() || !o.Meets(task.SkillRequirements, earliest) {
				continue
			}
			eligible = append(eligible, o)
		}
		if len(eligible) < required {
			return placement{}, false, true
		}
	}

	t := earliest
	for i := 0; i < maxPlacementAttempts; i++ {
		if gated > 0 {
			start, found := a.calendar.EarliestFit(t, gated)
			if !found {
				return placement{}, false, false
			}
			t = start
		}
		w := domain.TimeWindow{Start: t, End: t.Add(total.Std())}
		if next, busy := bookings.machineBlocked(c.machine.ID, c.machine.EffectiveCapacity(), w); busy {
			t = next
			continue
		}
		opWindow := domain.TimeWindow{Start: t, End: t.Add(opDur.Std())}
		if required == 0 {
			return placement{cand: c, window: w}, true, false
		}
		free, release, offShift := a.freeOperators(eligible, opWindow, staffed, bookings)
		if len(free) < required {
			switch {
			case !release.IsZero():
				t = release
			case offShift:
				t = t.Add(shiftProbeStep)
			default:
				return placement{}, false, true
			}
			continue
		}
		return placement{cand: c, window: w, opWindow: opWindow, staffed: staffed, operators: a.pickOperators(task, free, required, bookings.loadWindow(earliest), bookings)}, true, false
	}
	return placement{}, false, false
}

// freeOperators renvoie les opérateurs libres sur w, le premier instant où un
// opérateur occupé se libère, et si certains sont hors poste.
func (a *Allocator) freeOperators(eligible []domain.Operator, w domain.TimeWindow, staffed bool, bookings *Bookings) ([]domain.Operator, time.Time, bool) {
	var free []domain.Operator
	var release time.Time
	offShift := false
	for _, o := range eligible {
		if staffed && !o.CoversWindow(w) {
			offShift = true
			continue
		}
		if staffed {
			if next, busy := bookings.operatorBlocked(o.ID, w); busy {
				if release.IsZero() || next.Before(release) {
					release = next
				}
				continue
			}
		}
		free = append(free, o)
	}
	return free, release, offShift
}

func (a *Allocator) pickOperators(task *domain.Task, free []domain.Operator, n int, span domain.TimeWindow, bookings *Bookings) []operatorCandidate {
	cands := make([]operatorCandidate, 0, len(free))
	for _, o := range free {
		cands = append(cands, operatorCandidate{operator: o, score: a.scoreOperator(task, o, span, bookings.OperatorWindows(o.ID))})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].operator.ID < cands[j].operator.ID
	})
	return cands[:n]
}

// scoreOperator: compétence d'abord, coût ensuite. Si les deux préférences
// sont actives, le coût ne sert plus qu'à départager.
func (a *Allocator) scoreOperator(task *domain.Task, o domain.Operator, span domain.TimeWindow, booked []domain.TimeWindow) float64 {
	at := span.Start
	score := 0.0
	switch {
	case a.prefs.PreferHighestSkill && len(task.SkillRequirements) == 0:
		score += float64(o.HighestLevel(at)) * highestSkillFactor
	case a.prefs.PreferHighestSkill:
		for _, r := range task.SkillRequirements {
			score += float64(o.SkillLevel(r.SkillType, at)) * highestSkillFactor
		}
		score /= float64(len(task.SkillRequirements))
	case len(task.SkillRequirements) == 0:
		score += skillMatchBase
	default:
		for _, r := range task.SkillRequirements {
			score += skillMatchBase - skillOverqualified*float64(o.SkillLevel(r.SkillType, at)-r.MinimumLevel)
		}
		score /= float64(len(task.SkillRequirements))
	}
	if a.prefs.PreferLowestCost {
		cost := costBase - o.CostPerMinute()
		if a.prefs.PreferHighestSkill {
			cost *= costTiebreakWeight
		}
		score += cost
	}
	if a.prefs.LoadBalancing {
		score -= operatorLoad(booked, span) * operatorLoadPenalty
	}
	return score
}

func (a *Allocator) result(jobID string, task *domain.Task, p placement, opIDs []string) ResourceAllocation {
	score := p.cand.score
	var opParts []string
	if len(p.operators) > 0 {
		sum := 0.0
		for _, o := range p.operators {
			sum += o.score
			opParts = append(opParts, fmt.Sprintf("%s (%.1f)", o.operator.ID, o.score))
		}
		score += sum / float64(len(p.operators))
	}
	reason := fmt.Sprintf("machine %s (%.1f: %s)", p.cand.machine.ID, p.cand.score, strings.Join(p.cand.why, ", "))
	if len(opParts) > 0 {
		reason += "; operators " + strings.Join(opParts, ", ")
	}
	reason += "; start " + p.window.Start.Format("2006-01-02 15:04")
	return ResourceAllocation{
		TaskID:        task.ID,
		JobID:         jobID,
		MachineID:     p.cand.machine.ID,
		OperatorIDs:   opIDs,
		Score:         score,
		Reasoning:     reason,
		Window:        p.window,
		SetupDuration: p.cand.option.SetupDuration,
		Attended:      p.cand.option.RequiresOperatorFullDuration,
	}
}

// AllocateJob affecte les tâches non terminées dans l'ordre des séquences,
// chacune après la fin de ses prédécesseurs.
func (a *Allocator) AllocateJob(ctx context.Context, job *domain.Job, earliest time.Time, bookings *Bookings) ([]ResourceAllocation, error) {
	if bookings == nil {
		bookings = NewBookings(domain.TimeWindow{})
	}
	if job.ReleaseDate != nil && job.ReleaseDate.After(earliest) {
		earliest = *job.ReleaseDate
	}
	ends := map[string]time.Time{}
	var out []ResourceAllocation
	for _, t := range job.SortedTasks() {
		if t.Status.IsTerminal() {
			continue
		}
		start := earliest
		for _, pid := range t.PredecessorIDs {
			if end, ok := ends[pid]; ok && end.After(start) {
				start = end
			}
		}
		alloc, err := a.AllocateTask(ctx, job.ID, t, start, bookings, Exclusions{})
		if err != nil {
			return out, err
		}
		ends[t.ID] = alloc.Window.End
		out = append(out, alloc)
	}
	return out, nil
}

// FindAlternativeAllocation relance l'affectation en excluant la machine et
// les opérateurs précédents. Renvoie nil si la tâche ou aucune alternative
// n'existe.
func (a *Allocator) FindAlternativeAllocation(ctx context.Context, job *domain.Job, previous ResourceAllocation, earliest time.Time, bookings *Bookings) (*ResourceAllocation, error) {
	task, ok := job.Task(previous.TaskID)
	if !ok {
		return nil, nil
	}
	excl := Exclusions{Machines: map[string]bool{}, Operators: map[string]bool{}}
	if previous.MachineID != "" && len(task.MachineOptions) != 1 {
		excl.Machines[previous.MachineID] = true
	}
	for _, op := range previous.OperatorIDs {
		excl.Operators[op] = true
	}
	alloc, err := a.AllocateTask(ctx, job.ID, task, earliest, bookings, excl)
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

type Availability struct {
	Machines     map[string]bool `json:"machines"`
	Operators    map[string]bool `json:"operators"`
	AllAvailable bool            `json:"allAvailable"`
}

// ValidateResourceAvailability indique, ressource par ressource, si elle est
// libre et utilisable sur w.
func (a *Allocator) ValidateResourceAvailability(ctx context.Context, machineIDs, operatorIDs []string, w domain.TimeWindow, bookings *Bookings) (Availability, error) {
	if bookings == nil {
		bookings = NewBookings(domain.TimeWindow{})
	}
	out := Availability{Machines: map[string]bool{}, Operators: map[string]bool{}, AllAvailable: true}
	for _, id := range machineIDs {
		m, err := a.machines.Get(ctx, id)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return Availability{}, err
		}
		ok := err == nil && m.IsSchedulable()
		if ok {
			_, busy := bookings.machineBlocked(id, m.EffectiveCapacity(), w)
			ok = !busy
		}
		out.Machines[id] = ok
		out.AllAvailable = out.AllAvailable && ok
	}
	for _, id := range operatorIDs {
		o, err := a.operators.Get(ctx, id)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return Availability{}, err
		}
		ok := err == nil && o.IsActive() && o.CoversWindow(w)
		if ok {
			_, busy := bookings.operatorBlocked(id, w)
			ok = !busy
		}
		out.Operators[id] = ok
		out.AllAvailable = out.AllAvailable && ok
	}
	return out, nil
}

type UtilizationStats struct {
	Machines        map[string]float64 `json:"machines"`
	Operators       map[string]float64 `json:"operators"`
	AverageMachine  float64            `json:"averageMachine"`
	AverageOperator float64            `json:"averageOperator"`
}

func (a *Allocator) GetResourceUtilizationStats(ctx context.Context, w domain.TimeWindow, bookings *Bookings) (UtilizationStats, error) {
	machines, err := a.machines.List(ctx)
	if err != nil {
		return UtilizationStats{}, err
	}
	operators, err := a.operators.List(ctx)
	if err != nil {
		return UtilizationStats{}, err
	}
	return UtilizationOf(machines, operators, w, bookings), nil
}

// UtilizationOf calcule les taux d'occupation sans passer par les dépôts.
func UtilizationOf(machines []domain.Machine, operators []domain.Operator, w domain.TimeWindow, bookings *Bookings) UtilizationStats {
	out := UtilizationStats{Machines: map[string]float64{}, Operators: map[string]float64{}}
	for _, m := range machines {
		u := m.Utilization(w, bookings.MachineWindows(m.ID))
		out.Machines[m.ID] = u
		out.AverageMachine += u
	}
	for _, o := range operators {
		u := operatorLoad(bookings.OperatorWindows(o.ID), w)
		out.Operators[o.ID] = u
		out.AverageOperator += u
	}
	if len(machines) > 0 {
		out.AverageMachine /= float64(len(machines))
	}
	if len(operators) > 0 {
		out.AverageOperator /= float64(len(operators))
	}
	return out
}
