package schema

import (
	"github.com/google/uuid"
)

// Entity type tags. Scenario documents use these in their entity_type field
// and the snapshot decoder dispatches on them.
const (
	TypeGeneric  = "GenericEntity"
	TypeActor    = "Actor"
	TypeLocation = "WorldLocation"
)

// Common state keys written by the builtin action executors.
const (
	StateLocationID = "current_location_id"
	StateLastSpoken = "last_spoken"
	StateLastTopic  = "last_thought_topic"
	StatePosture    = "posture"
)

// Entity is the base addressable unit of world state. The id is assigned at
// creation and never changes for the lifetime of the run.
type Entity struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Properties  Bag       `json:"properties"`
	State       Bag       `json:"state"`
	Type        string    `json:"entity_type"`
}

func NewEntity(name string) *Entity {
	return &Entity{
		ID:         uuid.New(),
		Name:       name,
		Properties: Bag{},
		State:      Bag{},
		Type:       TypeGeneric,
	}
}

func (e *Entity) Base() *Entity { return e }

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Properties = e.Properties.Clone()
	out.State = e.State.Clone()
	return &out
}
