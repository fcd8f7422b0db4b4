package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/critical"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/validation"
)

// defaultRescheduleWindow borne la fenêtre de charge d'un replanning hors
// planning.
const defaultRescheduleWindow = 14 * 24 * time.Hour

type SchedulingDeps struct {
	Jobs      ports.JobRepository
	Machines  ports.MachineRepository
	Operators ports.OperatorRepository
	Schedules ports.ScheduleRepository
	Events    ports.EventPublisher
	Workflow  ports.WorkflowService
	Engine    *engine.Engine
	Allocator *allocation.Allocator
	Rules     domain.BusinessRules
	Limiter   *SolveLimiter
	Now       func() time.Time
}

// SchedulingService orchestre le cycle de vie des plannings. C'est le seul
// point d'entrée des appelants externes.
type SchedulingService struct {
	jobs      ports.JobRepository
	machines  ports.MachineRepository
	operators ports.OperatorRepository
	schedules ports.ScheduleRepository
	events    ports.EventPublisher
	workflow  ports.WorkflowService
	engine    *engine.Engine
	allocator *allocation.Allocator
	rules     domain.BusinessRules
	limiter   *SolveLimiter
	locks     *scheduleLocks
	critical  *critical.Manager
	now       func() time.Time
	logger    zerolog.Logger
}

func NewSchedulingService(d SchedulingDeps, logger zerolog.Logger) *SchedulingService {
	if d.Limiter == nil {
		d.Limiter = NewSolveLimiter(1)
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &SchedulingService{
		jobs:      d.Jobs,
		machines:  d.Machines,
		operators: d.Operators,
		schedules: d.Schedules,
		events:    d.Events,
		workflow:  d.Workflow,
		engine:    d.Engine,
		allocator: d.Allocator,
		rules:     d.Rules,
		limiter:   d.Limiter,
		locks:     newScheduleLocks(),
		critical:  critical.NewManager(critical.WithClock(d.Now)),
		now:       d.Now,
		logger:    logger.With().Str("component", "scheduling").Logger(),
	}
}

func (s *SchedulingService) Limiter() *SolveLimiter { return s.limiter }

func (s *SchedulingService) publish(kind domain.EventKind, aggregateID string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.NewEvent(xid.New().String(), kind, aggregateID, payload, s.now()))
}

func validateRequest(req SchedulingRequest) error {
	if len(req.JobIDs) == 0 {
		return &ValidationError{Field: "jobIds", Reason: "at least one job is required"}
	}
	seen := map[string]bool{}
	for _, id := range req.JobIDs {
		if id == "" {
			return &ValidationError{Field: "jobIds", Reason: "empty job id"}
		}
		if seen[id] {
			return &ValidationError{Field: "jobIds", Reason: "duplicate job " + id}
		}
		seen[id] = true
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return &ValidationError{Field: "startTime", Reason: "start and end times are required"}
	}
	if !req.StartTime.Before(req.EndTime) {
		return &ValidationError{Field: "endTime", Reason: "start time must be before end time"}
	}
	p := req.OptimizationParams
	if p.TimeBudget < 0 || p.Workers < 0 {
		return &ValidationError{Field: "optimizationParams", Reason: "time budget and workers must not be negative"}
	}
	if p.Phase2Tolerance != nil && *p.Phase2Tolerance < 0 {
		return &ValidationError{Field: "optimizationParams.phase2Tolerance", Reason: "must not be negative"}
	}
	return nil
}

func (s *SchedulingService) rulesFor(req SchedulingRequest) (domain.BusinessRules, error) {
	rules := s.rules
	if c := req.Constraints; c != nil {
		if c.WIPZones != nil {
			rules.WIPZones = c.WIPZones
		}
		if c.CriticalSequences != nil {
			rules.CriticalSequences = c.CriticalSequences
		}
	}
	if err := rules.Validate(); err != nil {
		return rules, &ValidationError{Field: "constraints", Reason: err.Error()}
	}
	return rules, nil
}

func (s *SchedulingService) engineFor(p OptimizationParams) *engine.Engine {
	cfg := s.engine.Config()
	if p.TimeBudget > 0 {
		cfg.TimeBudget = p.TimeBudget
	}
	if p.Workers > 0 {
		cfg.Workers = p.Workers
	}
	if p.Seed != 0 {
		cfg.Seed = p.Seed
	}
	if p.Phase2Tolerance != nil {
		cfg.Phase2Tolerance = *p.Phase2Tolerance
	}
	cfg.SkipPhase2 = cfg.SkipPhase2 || p.SkipPhase2
	return s.engine.WithConfig(cfg)
}

type snapshot struct {
	jobs      []*domain.Job
	machines  []domain.Machine
	operators []domain.Operator
	rules     domain.BusinessRules
}

func (sn snapshot) validator() *validation.Validator {
	return validation.New(validation.NewLookup(sn.jobs, sn.machines, sn.operators, sn.rules))
}

func (sn snapshot) violations(sched *domain.Schedule) []string {
	v := sn.validator()
	return append(v.CheckUnscheduled(sched), v.ValidateAll(sched)...)
}

func (s *SchedulingService) loadSnapshot(ctx context.Context, jobIDs []string, rules domain.BusinessRules) (snapshot, error) {
	sn := snapshot{rules: rules}
	for _, id := range jobIDs {
		j, err := s.jobs.Get(ctx, id)
		if err != nil {
			return snapshot{}, jobNotFound(id, err)
		}
		sn.jobs = append(sn.jobs, j)
	}
	var err error
	if sn.machines, err = s.machines.List(ctx); err != nil {
		return snapshot{}, err
	}
	if sn.operators, err = s.operators.List(ctx); err != nil {
		return snapshot{}, err
	}
	return sn, nil
}

// CreateOptimizedSchedule construit un planning DRAFT. L'infaisabilité n'est
// pas une erreur: le planning est alors construit par affectation job par job
// et le résultat porte violations et recommandations.
func (s *SchedulingService) CreateOptimizedSchedule(ctx context.Context, req SchedulingRequest) (*SchedulingResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	rules, err := s.rulesFor(req)
	if err != nil {
		return nil, err
	}
	sn, err := s.loadSnapshot(ctx, req.JobIDs, rules)
	if err != nil {
		return nil, err
	}
	for _, j := range sn.jobs {
		if !j.IsActive() {
			return nil, &ValidationError{Field: "jobIds", Reason: fmt.Sprintf("job %s is %s", j.JobNumber, j.Status)}
		}
	}
	horizon := domain.TimeWindow{Start: req.StartTime, End: req.EndTime}
	log := s.logger.With().Int("jobs", len(sn.jobs)).Time("start", horizon.Start).Logger()

	var res *engine.Result
	err = s.limiter.Run(ctx, func() (err error) {
		res, err = s.solve(ctx, s.engineFor(req.OptimizationParams), engine.Input{
			Horizon: horizon, Jobs: sn.jobs, Machines: sn.machines, Operators: sn.operators, Rules: rules,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	sched, err := domain.NewSchedule(xid.New().String(), req.Name, horizon, req.JobIDs, req.CreatedBy, s.now())
	if err != nil {
		return nil, &ValidationError{Field: "endTime", Reason: err.Error()}
	}

	var notes []string
	fallback := !res.Status.HasSolution()
	if fallback {
		log.Warn().Str("status", string(res.Status)).Str("reason", res.Message).Msg("optimization failed, falling back to allocation")
		notes = append(notes, fmt.Sprintf("Optimization status %s: %s", res.Status, res.Message))
		more, err := s.fallbackAllocate(ctx, sched, sn.jobs)
		if err != nil {
			return nil, err
		}
		notes = append(notes, more...)
	} else {
		for _, a := range res.Assignments() {
			a.ID = xid.New().String()
			if err := sched.Assign(a); err != nil {
				return nil, &OptimizationError{Reason: "solver returned an invalid assignment", Err: err}
			}
		}
	}

	opt := optimizationResult(res, fallback)
	violations := append(notes, sn.violations(sched)...)
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	s.publish(domain.EventScheduleCreated, sched.ID, map[string]any{"status": sched.Status, "solverStatus": opt.Status, "assignments": len(sched.Assignments)})
	log.Info().Str("schedule", sched.ID).Str("status", string(opt.Status)).Int("violations", len(violations)).Msg("schedule created")
	return s.result(sched, sn, opt, violations), nil
}

// solve lance la résolution hors de la goroutine appelante; si le contexte
// est annulé, le résultat tardif est abandonné.
func (s *SchedulingService) solve(ctx context.Context, eng *engine.Engine, in engine.Input) (*engine.Result, error) {
	select {
	case out := <-eng.SolveAsync(ctx, in):
		if out.Err != nil {
			return nil, &OptimizationError{Reason: "solver failure", Err: out.Err}
		}
		return out.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fallbackAllocate affecte les jobs un par un, dans l'ordre de priorité, sur
// des réservations partagées. Les jobs non affectables deviennent des notes.
func (s *SchedulingService) fallbackAllocate(ctx context.Context, sched *domain.Schedule, jobs []*domain.Job) ([]string, error) {
	var notes []string
	bookings := allocation.NewBookings(sched.Horizon)
	for _, j := range domain.CriticalOrder(jobs) {
		allocs, err := s.allocator.AllocateJob(ctx, j, sched.Horizon.Start, bookings)
		var unavailable *allocation.UnavailableError
		switch {
		case errors.As(err, &unavailable):
			notes = append(notes, fmt.Sprintf("Job %s could not be fully allocated: %v", j.JobNumber, err))
		case err != nil:
			return nil, err
		}
		for _, a := range allocs {
			if err := sched.Assign(a.Assignment(xid.New().String())); err != nil {
				return nil, err
			}
		}
	}
	return notes, nil
}

func (s *SchedulingService) result(sched *domain.Schedule, sn snapshot, opt OptimizationResult, violations []string) *SchedulingResult {
	if violations == nil {
		violations = []string{}
	}
	m := computeMetrics(sched, sn.jobs, sn.machines, sn.operators, opt, len(violations))
	return &SchedulingResult{
		Schedule:           sched,
		OptimizationResult: opt,
		Violations:         violations,
		Metrics:            m,
		Recommendations:    recommendations(m, opt, s.critical.IdentifyBottleneckSequences(sn.jobs)),
	}
}

func (s *SchedulingService) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	sched, err := s.schedules.Get(ctx, id)
	if err != nil {
		return nil, scheduleNotFound(id, err)
	}
	return sched, nil
}

// ListSchedules: un statut vide liste tous les plannings.
func (s *SchedulingService) ListSchedules(ctx context.Context, status domain.ScheduleStatus) ([]*domain.Schedule, error) {
	statuses := []domain.ScheduleStatus{status}
	if status == "" {
		statuses = []domain.ScheduleStatus{domain.ScheduleDraft, domain.SchedulePublished, domain.ScheduleActive, domain.ScheduleCompleted, domain.ScheduleCancelled}
	}
	out := []*domain.Schedule{}
	for _, st := range statuses {
		part, err := s.schedules.ListByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// ValidateSchedule renvoie les violations courantes sans rien modifier.
func (s *SchedulingService) ValidateSchedule(ctx context.Context, id string) ([]string, error) {
	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	sn, err := s.loadSnapshot(ctx, sched.JobIDs, s.rules)
	if err != nil {
		return nil, err
	}
	return sn.violations(sched), nil
}

// UpdateSchedule applique des modifications manuelles à un planning DRAFT et
// le revalide.
func (s *SchedulingService) UpdateSchedule(ctx context.Context, id string, changes ScheduleChanges) (*SchedulingResult, error) {
	if changes.empty() {
		return nil, &ValidationError{Field: "changes", Reason: "no changes"}
	}
	unlock := s.locks.lock(id)
	defer unlock()

	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sched.IsEditable() {
		return nil, &ScheduleModificationError{ScheduleID: id, Status: sched.Status}
	}
	sn, err := s.loadSnapshot(ctx, sched.JobIDs, s.rules)
	if err != nil {
		return nil, err
	}
	lookup := validation.NewLookup(sn.jobs, sn.machines, sn.operators, sn.rules)

	if changes.Name != nil {
		sched.Name = *changes.Name
	}
	for _, taskID := range changes.RemoveTaskIDs {
		if err := sched.Unassign(taskID); err != nil {
			return nil, err
		}
	}
	for _, a := range changes.Upsert {
		task, ok := lookup.Task(a.TaskID)
		if !ok {
			return nil, &ValidationError{Field: "upsert", Reason: fmt.Sprintf("task %s does not belong to the schedule's jobs", a.TaskID)}
		}
		a.JobID = task.JobID
		// setup et présence opérateur découlent de l'option machine choisie
		if opt, ok := task.Option(a.MachineID); ok {
			a.SetupDuration = opt.SetupDuration
			a.Attended = opt.RequiresOperatorFullDuration
		}
		if prev, ok := sched.Assignment(a.TaskID); ok && a.ID == "" {
			a.ID = prev.ID
		}
		if a.ID == "" {
			a.ID = xid.New().String()
		}
		if err := sched.Assign(a); err != nil {
			return nil, &ValidationError{Field: "upsert", Reason: err.Error()}
		}
	}
	sched.UpdatedAt = s.now()
	if err := s.schedules.Update(ctx, sched, sched.Version); err != nil {
		return nil, err
	}
	violations := sn.violations(sched)
	s.publish(domain.EventScheduleUpdated, sched.ID, map[string]any{"version": sched.Version, "violations": len(violations)})
	return s.result(sched, sn, OptimizationResult{}, violations), nil
}

// PublishSchedule fige un planning DRAFT sans violation.
func (s *SchedulingService) PublishSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.Status != domain.ScheduleDraft {
		return nil, &InvalidStateError{ScheduleID: id, From: sched.Status, Action: "publish"}
	}
	sn, err := s.loadSnapshot(ctx, sched.JobIDs, s.rules)
	if err != nil {
		return nil, err
	}
	if violations := sn.violations(sched); len(violations) > 0 {
		return nil, &PublishError{ScheduleID: id, Violations: violations}
	}
	if err := s.transition(ctx, sched, sched.Publish); err != nil {
		return nil, err
	}
	s.publish(domain.EventSchedulePublished, sched.ID, map[string]any{"version": sched.Version})
	return sched, nil
}

func (s *SchedulingService) transition(ctx context.Context, sched *domain.Schedule, apply func(time.Time) error) error {
	from := sched.Status
	if err := apply(s.now()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return &InvalidStateError{ScheduleID: sched.ID, From: from, Action: "transition"}
		}
		return err
	}
	return s.schedules.Update(ctx, sched, sched.Version)
}

// ExecuteSchedule active un planning publié puis fait avancer le workflow de
// chaque job. Un échec de workflow est consigné par job sans annuler
// l'activation.
func (s *SchedulingService) ExecuteSchedule(ctx context.Context, id string) (*ExecutionResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.Status != domain.SchedulePublished {
		return nil, &InvalidStateError{ScheduleID: id, From: sched.Status, Action: "execute"}
	}
	if err := s.transition(ctx, sched, sched.Activate); err != nil {
		return nil, err
	}
	s.publish(domain.EventScheduleActivated, sched.ID, map[string]any{"version": sched.Version})

	out := &ExecutionResult{Schedule: sched}
	for _, jobID := range sched.JobIDs {
		res := JobExecution{JobID: jobID}
		if s.workflow != nil {
			st, err := s.workflow.Advance(ctx, jobID, sched.ID)
			if err != nil {
				s.logger.Warn().Err(err).Str("job", jobID).Str("schedule", sched.ID).Msg("workflow advance failed")
				res.Error = err.Error()
			} else {
				res.State = &st
				s.publish(domain.EventJobStatusChanged, jobID, st)
			}
		}
		out.Jobs = append(out.Jobs, res)
	}
	return out, nil
}

// GetScheduleStatus agrège l'avancement des jobs du planning. L'état du
// workflow prime; à défaut, l'avancement des tâches du job.
func (s *SchedulingService) GetScheduleStatus(ctx context.Context, id string) (*ScheduleStatusReport, error) {
	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &ScheduleStatusReport{ScheduleID: sched.ID, Status: sched.Status, Version: sched.Version, Jobs: []JobProgress{}}
	for _, jobID := range sched.JobIDs {
		j, err := s.jobs.Get(ctx, jobID)
		if err != nil {
			return nil, jobNotFound(jobID, err)
		}
		p := JobProgress{JobID: j.ID, JobNumber: j.JobNumber, Status: j.Status, Progress: j.Progress()}
		if s.workflow != nil {
			st, err := s.workflow.State(ctx, jobID)
			switch {
			case err == nil:
				p.Stage, p.Status, p.Progress = st.Stage, st.Status, st.Progress
			case !errors.Is(err, ports.ErrNotFound):
				return nil, err
			}
		}
		report.Jobs = append(report.Jobs, p)
		report.Progress += p.Progress
	}
	if n := len(report.Jobs); n > 0 {
		report.Progress /= float64(n)
	}
	return report, nil
}

// RescheduleJob réaffecte les tâches d'un job à partir de newStart. Avec un
// planning, celui-ci doit être DRAFT: les affectations du job y sont
// remplacées et le planning est persisté.
func (s *SchedulingService) RescheduleJob(ctx context.Context, jobID string, newStart time.Time, scheduleID string) (*RescheduleResult, error) {
	if newStart.IsZero() {
		return nil, &ValidationError{Field: "newStart", Reason: "required"}
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, jobNotFound(jobID, err)
	}
	if scheduleID == "" {
		bookings := allocation.NewBookings(domain.TimeWindow{Start: newStart, End: newStart.Add(defaultRescheduleWindow)})
		allocs, err := s.allocator.AllocateJob(ctx, job, newStart, bookings)
		if err != nil {
			return nil, s.allocationError(err)
		}
		return &RescheduleResult{JobID: jobID, Allocations: allocs, Violations: []string{}}, nil
	}

	unlock := s.locks.lock(scheduleID)
	defer unlock()
	sched, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !sched.IsEditable() {
		return nil, &ScheduleModificationError{ScheduleID: scheduleID, Status: sched.Status}
	}
	if !sched.HasJob(jobID) {
		return nil, &ValidationError{Field: "jobId", Reason: fmt.Sprintf("job %s is not part of schedule %s", job.JobNumber, scheduleID)}
	}
	var taskIDs []string
	for _, t := range job.Tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	allocs, err := s.allocator.AllocateJob(ctx, job, newStart, allocation.BookingsFromSchedule(sched, taskIDs...))
	if err != nil {
		return nil, s.allocationError(err)
	}
	for _, id := range taskIDs {
		if err := sched.Unassign(id); err != nil {
			return nil, err
		}
	}
	for _, a := range allocs {
		if err := sched.Assign(a.Assignment(xid.New().String())); err != nil {
			return nil, err
		}
	}
	sched.UpdatedAt = s.now()
	if err := s.schedules.Update(ctx, sched, sched.Version); err != nil {
		return nil, err
	}
	for _, a := range allocs {
		s.publish(domain.EventTaskAssigned, a.TaskID, a)
	}
	s.publish(domain.EventScheduleUpdated, sched.ID, map[string]any{"version": sched.Version, "rescheduledJob": jobID})

	sn, err := s.loadSnapshot(ctx, sched.JobIDs, s.rules)
	if err != nil {
		return nil, err
	}
	return &RescheduleResult{JobID: jobID, ScheduleID: scheduleID, Allocations: allocs, Violations: sn.violations(sched)}, nil
}

func (s *SchedulingService) allocationError(err error) error {
	var unavailable *allocation.UnavailableError
	if errors.As(err, &unavailable) {
		return resourceUnavailable(err)
	}
	return err
}

// GetResourceConflicts liste les doubles réservations de machines et
// d'opérateurs qui recoupent window (tout l'horizon si window est vide).
func (s *SchedulingService) GetResourceConflicts(ctx context.Context, scheduleID string, window domain.TimeWindow) ([]ResourceConflict, error) {
	sched, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if window.IsZero() {
		window = sched.Horizon
	}
	if !window.Start.Before(window.End) {
		return nil, &ValidationError{Field: "window", Reason: "start must be before end"}
	}
	machines, err := s.machines.List(ctx)
	if err != nil {
		return nil, err
	}
	capacity := map[string]int{}
	for _, m := range machines {
		capacity[m.ID] = m.EffectiveCapacity()
	}

	out := []ResourceConflict{}
	for _, id := range sched.MachineIDs() {
		c, ok := capacity[id]
		if !ok {
			c = 1
		}
		var windows []resourceUse
		for _, a := range sched.MachineTimeline(id) {
			windows = append(windows, resourceUse{taskID: a.TaskID, window: a.Window})
		}
		out = append(out, conflictsOf("machine", id, c, windows, window)...)
	}
	for _, id := range sched.OperatorIDs() {
		var windows []resourceUse
		for _, a := range sched.OperatorTimeline(id) {
			w, _ := a.OperatorWindow()
			windows = append(windows, resourceUse{taskID: a.TaskID, window: w})
		}
		out = append(out, conflictsOf("operator", id, 1, windows, window)...)
	}
	return out, nil
}

type resourceUse struct {
	taskID string
	window domain.TimeWindow
}

// conflictsOf renvoie, pour une ressource de capacité 1, chaque paire qui se
// chevauche; au-delà, chaque instant de départ où la capacité est dépassée,
// avec les tâches présentes.
func conflictsOf(kind, id string, capacity int, uses []resourceUse, within domain.TimeWindow) []ResourceConflict {
	var in []resourceUse
	for _, u := range uses {
		if w, ok := u.window.Intersection(within); ok {
			in = append(in, resourceUse{taskID: u.taskID, window: w})
		}
	}
	var out []ResourceConflict
	if capacity <= 1 {
		for i := 0; i < len(in); i++ {
			for k := i + 1; k < len(in); k++ {
				if w, ok := in[i].window.Intersection(in[k].window); ok {
					out = append(out, ResourceConflict{ResourceType: kind, ResourceID: id, TaskIDs: []string{in[i].taskID, in[k].taskID}, Window: w})
				}
			}
		}
		return out
	}
	reported := map[string]bool{}
	for _, u := range in {
		t := u.window.Start
		var present []string
		end := u.window.End
		for _, o := range in {
			if o.window.ContainsTime(t) {
				present = append(present, o.taskID)
				if o.window.End.Before(end) {
					end = o.window.End
				}
			}
		}
		if len(present) <= capacity {
			continue
		}
		sort.Strings(present)
		key := fmt.Sprint(present)
		if reported[key] {
			continue
		}
		reported[key] = true
		out = append(out, ResourceConflict{ResourceType: kind, ResourceID: id, TaskIDs: present, Window: domain.TimeWindow{Start: t, End: end}})
	}
	return out
}

func (s *SchedulingService) CancelSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionSchedule(sched.Status, domain.ScheduleCancelled) {
		return nil, &InvalidStateError{ScheduleID: id, From: sched.Status, Action: "cancel"}
	}
	if err := s.transition(ctx, sched, sched.Cancel); err != nil {
		return nil, err
	}
	s.publish(domain.EventScheduleCancelled, sched.ID, map[string]any{"version": sched.Version})
	return sched, nil
}

func (s *SchedulingService) CompleteSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sched, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.Status != domain.ScheduleActive {
		return nil, &InvalidStateError{ScheduleID: id, From: sched.Status, Action: "complete"}
	}
	if err := s.transition(ctx, sched, sched.Complete); err != nil {
		return nil, err
	}
	s.publish(domain.EventScheduleCompleted, sched.ID, map[string]any{"version": sched.Version})
	return sched, nil
}
