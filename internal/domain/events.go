package domain

import "time"

// EventKind est l'ensemble fermé des événements métier publiés.
type EventKind int

const (
	EventJobStatusChanged EventKind = iota + 1
	EventTaskStatusChanged
	EventTaskAssigned
	EventScheduleCreated
	EventScheduleUpdated
	EventSchedulePublished
	EventScheduleActivated
	EventScheduleCancelled
	EventScheduleCompleted
	EventJobDueSoon
)

var eventTopics = [...]string{
	EventJobStatusChanged:  "job.status_changed",
	EventTaskStatusChanged: "task.status_changed",
	EventTaskAssigned:      "task.assigned",
	EventScheduleCreated:   "schedule.created",
	EventScheduleUpdated:   "schedule.updated",
	EventSchedulePublished: "schedule.published",
	EventScheduleActivated: "schedule.activated",
	EventScheduleCancelled: "schedule.cancelled",
	EventScheduleCompleted: "schedule.completed",
	EventJobDueSoon:        "job.due_soon",
}

// EventKinds liste tous les types connus, dans l'ordre de déclaration.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, len(eventTopics)-1)
	for k := EventJobStatusChanged; int(k) < len(eventTopics); k++ {
		out = append(out, k)
	}
	return out
}

func (k EventKind) Valid() bool { return k > 0 && int(k) < len(eventTopics) }

// Topic renvoie le nom de topic publié, vide si le type est inconnu.
func (k EventKind) Topic() string {
	if !k.Valid() {
		return ""
	}
	return eventTopics[k]
}

func (k EventKind) String() string {
	if t := k.Topic(); t != "" {
		return t
	}
	return "unknown"
}

type Event struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"-"`
	Topic       string    `json:"topic"`
	AggregateID string    `json:"aggregateId"`
	OccurredAt  time.Time `json:"occurredAt"`
	Payload     any       `json:"payload,omitempty"`
}

func NewEvent(id string, kind EventKind, aggregateID string, payload any, at time.Time) Event {
	return Event{ID: id, Kind: kind, Topic: kind.Topic(), AggregateID: aggregateID, OccurredAt: at, Payload: payload}
}
