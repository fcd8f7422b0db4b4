package ports

import "github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"

// EventPublisher notifie sans attendre; aucune logique interne n'en dépend.
type EventPublisher interface {
	Publish(evt domain.Event)
}

type EventBus interface {
	EventPublisher
	Subscribe(kinds ...domain.EventKind) (ch <-chan domain.Event, cancel func())
}
