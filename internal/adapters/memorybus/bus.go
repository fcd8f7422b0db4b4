// Package memorybus est le diffuseur d'événements en mémoire. Il est construit
// explicitement et injecté; sa durée de vie est celle du processus qui l'a
// créé, Close libère tous les abonnés.
package memorybus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

const subscriberBuffer = 64

// Bus tient une table d'abonnements par type d'événement. Un abonné lent perd
// les événements qui ne tiennent pas dans son tampon.
type Bus struct {
	logger zerolog.Logger

	mu      sync.Mutex
	topics  map[domain.EventKind]map[chan domain.Event]struct{}
	alive   bool
	dropped int
}

var _ ports.EventBus = (*Bus)(nil)

func New(logger zerolog.Logger) *Bus {
	topics := make(map[domain.EventKind]map[chan domain.Event]struct{}, len(domain.EventKinds()))
	for _, k := range domain.EventKinds() {
		topics[k] = map[chan domain.Event]struct{}{}
	}
	return &Bus{logger: logger.With().Str("component", "bus").Logger(), topics: topics, alive: true}
}

func (b *Bus) Publish(evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	subs, ok := b.topics[evt.Kind]
	if !ok {
		b.logger.Warn().Int("kind", int(evt.Kind)).Msg("unregistered event kind dropped")
		return
	}
	if evt.Topic == "" {
		evt.Topic = evt.Kind.Topic()
	}
	for ch := range subs {
		select {
		case ch <- evt:
		default:
			// drop si le client est trop lent
			b.dropped++
		}
	}
}

// Subscribe s'abonne aux types donnés, ou à tous si la liste est vide.
func (b *Bus) Subscribe(kinds ...domain.EventKind) (<-chan domain.Event, func()) {
	if len(kinds) == 0 {
		kinds = domain.EventKinds()
	}
	ch := make(chan domain.Event, subscriberBuffer)
	b.mu.Lock()
	if !b.alive {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	for _, k := range kinds {
		if subs, ok := b.topics[k]; ok {
			subs[ch] = struct{}{}
		}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.alive {
				return
			}
			for _, subs := range b.topics {
				delete(subs, ch)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Dropped renvoie le nombre d'événements perdus faute de place.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close ferme tous les abonnements; les publications suivantes sont ignorées.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	b.alive = false
	closed := map[chan domain.Event]struct{}{}
	for _, subs := range b.topics {
		for ch := range subs {
			if _, done := closed[ch]; !done {
				close(ch)
				closed[ch] = struct{}{}
			}
			delete(subs, ch)
		}
	}
}
