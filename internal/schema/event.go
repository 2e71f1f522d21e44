package schema

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engine itself. Action executors and external
// collaborators add their own.
const (
	EventRoundCompleted = "round.completed"
	EventActionResolved = "action.resolved"
	EventHandlerFault   = "bus.handler_fault"

	EventActorMoved   = "actor.moved"
	EventActorSpoke   = "actor.spoke"
	EventActorEmotion = "actor.emotion"
	EventActorTook    = "actor.took"
	EventActorGave    = "actor.gave"
)

// Event is an immutable record of something that happened. It is never
// mutated after publication; subscribers that need it longer than a round
// must copy or persist it themselves.
type Event struct {
	ID        uuid.UUID         `json:"event_id"`
	Round     uint64            `json:"round"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"event_type"`
	Data      Bag               `json:"data"`
	Source    *uuid.UUID        `json:"source_entity_id,omitempty"`
	Target    *uuid.UUID        `json:"target_entity_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an event with a fresh id and the current wall time.
// Round is stamped by whoever publishes it.
func NewEvent(eventType string, data Bag) Event {
	if data == nil {
		data = Bag{}
	}
	return Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Data:      data,
	}
}

// WithSource returns a copy with the source entity set.
func (e Event) WithSource(id uuid.UUID) Event {
	src := id
	e.Source = &src
	return e
}

// WithTarget returns a copy with the target entity set.
func (e Event) WithTarget(id uuid.UUID) Event {
	tgt := id
	e.Target = &tgt
	return e
}
