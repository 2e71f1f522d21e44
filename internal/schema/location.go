package schema

import (
	"sort"

	"github.com/google/uuid"
)

// Coordinates positions a location in the world. Z is optional in scenario
// documents and defaults to zero.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Location is an Entity specialization with a position, the set of entities
// it currently contains and named exits to other locations.
type Location struct {
	Entity
	Coordinates Coordinates          `json:"coordinates"`
	Contained   []uuid.UUID          `json:"contained_entity_ids"`
	Connections map[string]uuid.UUID `json:"connections"`
	Category    string               `json:"location_category,omitempty"`
}

func NewLocation(name string) *Location {
	l := &Location{
		Entity:      *NewEntity(name),
		Connections: map[string]uuid.UUID{},
	}
	l.Type = TypeLocation
	return l
}

func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	out := *l
	out.Entity = *l.Entity.Clone()
	out.Contained = append([]uuid.UUID(nil), l.Contained...)
	out.Connections = make(map[string]uuid.UUID, len(l.Connections))
	for k, v := range l.Connections {
		out.Connections[k] = v
	}
	return &out
}

// Contains reports whether the entity is in this location's contained set.
func (l *Location) Contains(id uuid.UUID) bool {
	for _, c := range l.Contained {
		if c == id {
			return true
		}
	}
	return false
}

// AddContained inserts an id into the contained set; adding an id twice is a
// no-op. The set stays sorted so serialization is deterministic.
func (l *Location) AddContained(id uuid.UUID) {
	if l.Contains(id) {
		return
	}
	l.Contained = append(l.Contained, id)
	sort.Slice(l.Contained, func(i, j int) bool {
		return l.Contained[i].String() < l.Contained[j].String()
	})
}

// RemoveContained drops an id from the contained set if present.
func (l *Location) RemoveContained(id uuid.UUID) {
	for i, c := range l.Contained {
		if c == id {
			l.Contained = append(l.Contained[:i], l.Contained[i+1:]...)
			return
		}
	}
}

// ConnectionTo returns the exit name leading to the target, if any.
func (l *Location) ConnectionTo(target uuid.UUID) (string, bool) {
	names := make([]string, 0, len(l.Connections))
	for name := range l.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if l.Connections[name] == target {
			return name, true
		}
	}
	return "", false
}
