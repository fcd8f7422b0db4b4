package app

import "sync"

// scheduleLocks sérialise les écritures par identifiant de planning. Une
// entrée vit tant qu'au moins un appelant la détient ou l'attend, puis elle
// est retirée de la table.
type scheduleLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newScheduleLocks() *scheduleLocks {
	return &scheduleLocks{locks: map[string]*refLock{}}
}

// lock bloque jusqu'à obtenir le verrou de id et renvoie la fonction de
// libération.
func (l *scheduleLocks) lock(id string) func() {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &refLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *scheduleLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
