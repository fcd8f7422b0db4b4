package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

// DueSoon est la charge utile de job.due_soon.
type DueSoon struct {
	JobID     string           `json:"jobId"`
	JobNumber string           `json:"jobNumber"`
	Status    domain.JobStatus `json:"status"`
	DueDate   time.Time        `json:"dueDate"`
	Overdue   bool             `json:"overdue"`
	Progress  float64          `json:"progress"`
}

// DueDateWatcher publie job.due_soon pour les jobs actifs dont l'échéance
// tombe dans Lookahead. Un job n'est signalé qu'une fois par échéance; son
// entrée est oubliée dès qu'il est terminé ou sort de la fenêtre.
type DueDateWatcher struct {
	logger zerolog.Logger
	jobs   ports.JobRepository
	bus    ports.EventPublisher
	now    func() time.Time

	TickInterval time.Duration
	Lookahead    time.Duration

	mu       sync.Mutex
	notified map[string]time.Time
}

func NewDueDateWatcher(logger zerolog.Logger, jobs ports.JobRepository, bus ports.EventPublisher) *DueDateWatcher {
	return &DueDateWatcher{
		logger:       logger.With().Str("component", "due-watcher").Logger(),
		jobs:         jobs,
		bus:          bus,
		now:          func() time.Time { return time.Now().UTC() },
		TickInterval: time.Minute,
		Lookahead:    24 * time.Hour,
		notified:     map[string]time.Time{},
	}
}

func (w *DueDateWatcher) Run(ctx context.Context) {
	interval := w.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("due-date watcher stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick renvoie le nombre d'événements publiés.
func (w *DueDateWatcher) tick(ctx context.Context) int {
	now := w.now()
	due, err := w.jobs.ListDueBefore(ctx, now.Add(w.Lookahead))
	if err != nil {
		w.logger.Error().Err(err).Msg("due-date query failed")
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	live := make(map[string]struct{}, len(due))
	for _, j := range due {
		if j.DueDate != nil && j.IsActive() {
			live[j.ID] = struct{}{}
		}
	}
	for id := range w.notified {
		if _, ok := live[id]; !ok {
			delete(w.notified, id)
		}
	}

	published := 0
	for _, j := range due {
		if ctx.Err() != nil {
			return published
		}
		if _, ok := live[j.ID]; !ok {
			continue
		}
		if last, ok := w.notified[j.ID]; ok && last.Equal(*j.DueDate) {
			continue
		}
		w.notified[j.ID] = *j.DueDate
		w.bus.Publish(domain.NewEvent(xid.New().String(), domain.EventJobDueSoon, j.ID, DueSoon{
			JobID:     j.ID,
			JobNumber: j.JobNumber,
			Status:    j.Status,
			DueDate:   *j.DueDate,
			Overdue:   j.DueDate.Before(now),
			Progress:  j.Progress(),
		}, now))
		published++
		w.logger.Warn().Str("job", j.JobNumber).Time("due", *j.DueDate).Msg("job due soon")
	}
	return published
}
