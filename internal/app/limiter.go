package app

import (
	"context"
	"sync"
)

// LimiterStats est un instantané de la charge du solveur.
type LimiterStats struct {
	Limit     int    `json:"maxConcurrentSolves"`
	InFlight  int    `json:"inFlight"`
	Waiting   int    `json:"waiting"`
	Completed uint64 `json:"completed"`
}

// SolveLimiter plafonne le nombre de résolutions simultanées. Le plafond se
// modifie à chaud; les appels en attente sont réveillés à chaque libération.
type SolveLimiter struct {
	mu        sync.Mutex
	limit     int
	inFlight  int
	waiting   int
	completed uint64
	wake      chan struct{}
}

func NewSolveLimiter(limit int) *SolveLimiter {
	return &SolveLimiter{limit: max(limit, 1), wake: make(chan struct{})}
}

func (l *SolveLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{Limit: l.limit, InFlight: l.inFlight, Waiting: l.waiting, Completed: l.completed}
}

// SetLimit borne la valeur à 1 au minimum. Les résolutions déjà lancées au
// delà d'un plafond réduit vont à leur terme.
func (l *SolveLimiter) SetLimit(limit int) {
	limit = max(limit, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit != limit {
		l.limit = limit
		l.broadcastLocked()
	}
}

func (l *SolveLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	for l.inFlight >= l.limit {
		wake := l.wake
		l.waiting++
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.waiting--
			l.mu.Unlock()
			return ctx.Err()
		case <-wake:
		}

		l.mu.Lock()
		l.waiting--
	}
	l.inFlight++
	l.mu.Unlock()
	return nil
}

func (l *SolveLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight == 0 {
		return
	}
	l.inFlight--
	l.completed++
	l.broadcastLocked()
}

// Run exécute fn en occupant une place.
func (l *SolveLimiter) Run(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

func (l *SolveLimiter) broadcastLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}
