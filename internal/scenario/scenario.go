// Package scenario loads the starting state of a simulation: locations,
// actors, placements, and predefined events. Documents reference entities by
// name; loading assigns ids and resolves every reference before anything
// touches the store.
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"scrai/internal/schema"
	"scrai/internal/sim/world"
)

//go:embed schemas/scenario.schema.json
var scenarioSchemaJSON string

var scenarioSchema = jsonschema.MustCompileString("scenario.schema.json", scenarioSchemaJSON)

// Document is the on-disk scenario format.
type Document struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Locations   []LocationDef `json:"locations"`
	Actors      []ActorDef    `json:"actors"`
	Placements  []Placement   `json:"placements"`
	Events      []EventDef    `json:"events,omitempty"`
	Objectives  []string      `json:"objectives,omitempty"`
}

type LocationDef struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    string              `json:"category,omitempty"`
	Coordinates *schema.Coordinates `json:"coordinates,omitempty"`
	// Connections maps an exit name to the name of the destination
	// location.
	Connections map[string]string `json:"connections,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty"`
}

type ActorDef struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	HasAgency   *bool                   `json:"has_agency,omitempty"`
	Priority    int                     `json:"priority,omitempty"`
	Goals       []GoalDef               `json:"goals,omitempty"`
	Emotions    map[string]float64      `json:"emotions,omitempty"`
	Memory      []string                `json:"memory,omitempty"`
	Provider    schema.ProviderSettings `json:"provider,omitempty"`
	State       map[string]any          `json:"state,omitempty"`
	Properties  map[string]any          `json:"properties,omitempty"`
}

type GoalDef struct {
	Description string `json:"description"`
	Priority    int    `json:"priority,omitempty"`
}

type Placement struct {
	Actor    string `json:"actor"`
	Location string `json:"location"`
}

// EventDef schedules a predefined event. Source and Target name entities in
// the same document; Round 0 means round 1.
type EventDef struct {
	Round  uint64         `json:"round,omitempty"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
	Source string         `json:"source,omitempty"`
	Target string         `json:"target,omitempty"`
}

// Scenario is a loaded, resolved document ready to seed an engine.
type Scenario struct {
	Name       string
	Objectives []string
	Actors     []*schema.Actor
	Locations  []*schema.Location
	// Events carry resolved ids and the round they should fire in.
	Events []ScheduledEvent
}

type ScheduledEvent struct {
	Round uint64
	Event schema.Event
}

// Parse validates raw JSON against the scenario schema and resolves it.
func Parse(raw []byte) (*Scenario, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("scenario: not valid JSON: %w", err)
	}
	if err := scenarioSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("scenario: schema validation: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}
	return resolve(doc)
}

// LoadFile reads and parses a scenario document.
func LoadFile(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	return Parse(raw)
}

func resolve(doc Document) (*Scenario, error) {
	sc := &Scenario{Name: doc.Name, Objectives: doc.Objectives}

	byName := make(map[string]uuid.UUID)
	register := func(kind, name string, id uuid.UUID) error {
		if _, dup := byName[name]; dup {
			return fmt.Errorf("scenario: duplicate %s name %q", kind, name)
		}
		byName[name] = id
		return nil
	}

	locs := make(map[string]*schema.Location, len(doc.Locations))
	for _, def := range doc.Locations {
		loc := schema.NewLocation(def.Name)
		loc.Description = def.Description
		if def.Category != "" {
			loc.Category = def.Category
		}
		if def.Coordinates != nil {
			loc.Coordinates = *def.Coordinates
		}
		var err error
		if loc.Properties, err = schema.FromAnyMap(def.Properties); err != nil {
			return nil, fmt.Errorf("scenario: location %q properties: %w", def.Name, err)
		}
		if err := register("location", def.Name, loc.ID); err != nil {
			return nil, err
		}
		locs[def.Name] = loc
		sc.Locations = append(sc.Locations, loc)
	}

	for _, def := range doc.Actors {
		a := schema.NewActor(def.Name)
		a.Description = def.Description
		if def.HasAgency != nil {
			a.HasAgency = *def.HasAgency
		}
		a.Priority = def.Priority
		for _, g := range def.Goals {
			a.Cognitive.Goals = append(a.Cognitive.Goals, schema.Goal{
				ID:          uuid.New(),
				Description: g.Description,
				Status:      schema.GoalPending,
				Priority:    g.Priority,
			})
		}
		for name, v := range def.Emotions {
			a.Cognitive.SetEmotion(name, v)
		}
		for _, m := range def.Memory {
			a.Cognitive.AddMemory(m)
		}
		a.Cognitive.Provider = def.Provider
		var err error
		if a.State, err = schema.FromAnyMap(def.State); err != nil {
			return nil, fmt.Errorf("scenario: actor %q state: %w", def.Name, err)
		}
		if a.Properties, err = schema.FromAnyMap(def.Properties); err != nil {
			return nil, fmt.Errorf("scenario: actor %q properties: %w", def.Name, err)
		}
		if err := register("actor", def.Name, a.ID); err != nil {
			return nil, err
		}
		sc.Actors = append(sc.Actors, a)
	}

	// Connections resolve after every location has an id.
	for _, def := range doc.Locations {
		loc := locs[def.Name]
		for exit, destName := range def.Connections {
			dest, ok := locs[destName]
			if !ok {
				return nil, fmt.Errorf("scenario: location %q exit %q points at unknown location %q", def.Name, exit, destName)
			}
			loc.Connections[exit] = dest.ID
		}
	}

	placed := make(map[string]bool)
	for _, p := range doc.Placements {
		actorID, ok := byName[p.Actor]
		if !ok {
			return nil, fmt.Errorf("scenario: placement references unknown actor %q", p.Actor)
		}
		loc, ok := locs[p.Location]
		if !ok {
			return nil, fmt.Errorf("scenario: placement of %q references unknown location %q", p.Actor, p.Location)
		}
		if placed[p.Actor] {
			return nil, fmt.Errorf("scenario: actor %q placed twice", p.Actor)
		}
		placed[p.Actor] = true
		loc.AddContained(actorID)
		for _, a := range sc.Actors {
			if a.ID == actorID {
				a.State[schema.StateLocationID] = schema.String(loc.ID.String())
			}
		}
	}
	for _, a := range sc.Actors {
		if !placed[a.Name] {
			return nil, fmt.Errorf("scenario: actor %q has no placement", a.Name)
		}
	}

	for i, def := range doc.Events {
		data, err := schema.FromAnyMap(def.Data)
		if err != nil {
			return nil, fmt.Errorf("scenario: event %d data: %w", i, err)
		}
		ev := schema.NewEvent(def.Type, data)
		if def.Source != "" {
			id, ok := byName[def.Source]
			if !ok {
				return nil, fmt.Errorf("scenario: event %d references unknown source %q", i, def.Source)
			}
			ev = ev.WithSource(id)
		}
		if def.Target != "" {
			id, ok := byName[def.Target]
			if !ok {
				return nil, fmt.Errorf("scenario: event %d references unknown target %q", i, def.Target)
			}
			ev = ev.WithTarget(id)
		}
		round := def.Round
		if round == 0 {
			round = 1
		}
		sc.Events = append(sc.Events, ScheduledEvent{Round: round, Event: ev})
	}

	return sc, nil
}

// Seed populates an empty store with the scenario's entities and checks
// referential integrity.
func (sc *Scenario) Seed(store *world.Store) error {
	for _, loc := range sc.Locations {
		if err := store.Put(loc); err != nil {
			return fmt.Errorf("scenario: seed location %q: %w", loc.Name, err)
		}
	}
	for _, a := range sc.Actors {
		if err := store.Put(a); err != nil {
			return fmt.Errorf("scenario: seed actor %q: %w", a.Name, err)
		}
	}
	return store.ValidateRefs()
}
