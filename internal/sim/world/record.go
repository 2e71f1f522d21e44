package world

import (
	"encoding/json"
	"fmt"

	"scrai/internal/schema"
)

// Record is one entry in the store: a generic entity, an actor or a
// location. Base exposes the shared entity fields; CloneRecord deep-copies
// so callers always work on snapshots.
type Record interface {
	Base() *schema.Entity
	CloneRecord() Record
}

type entityRecord struct{ *schema.Entity }
type actorRecord struct{ *schema.Actor }
type locationRecord struct{ *schema.Location }

func (r entityRecord) CloneRecord() Record   { return entityRecord{r.Entity.Clone()} }
func (r actorRecord) CloneRecord() Record    { return actorRecord{r.Actor.Clone()} }
func (r actorRecord) Base() *schema.Entity   { return &r.Actor.Entity }
func (r locationRecord) CloneRecord() Record { return locationRecord{r.Location.Clone()} }
func (r locationRecord) Base() *schema.Entity {
	return &r.Location.Entity
}

// Wrap turns a typed entity pointer into a Record. Already-wrapped records
// pass through unchanged.
func Wrap(v any) (Record, error) {
	switch t := v.(type) {
	case Record:
		return t, nil
	case *schema.Actor:
		return actorRecord{t}, nil
	case *schema.Location:
		return locationRecord{t}, nil
	case *schema.Entity:
		return entityRecord{t}, nil
	default:
		return nil, fmt.Errorf("world: cannot store %T", v)
	}
}

// AsActor unwraps a Record holding an actor.
func AsActor(r Record) (*schema.Actor, bool) {
	a, ok := r.(actorRecord)
	if !ok {
		return nil, false
	}
	return a.Actor, true
}

// AsLocation unwraps a Record holding a location.
func AsLocation(r Record) (*schema.Location, bool) {
	l, ok := r.(locationRecord)
	if !ok {
		return nil, false
	}
	return l.Location, true
}

// EncodeRecord marshals a record with its entity_type discriminator intact.
func EncodeRecord(r Record) ([]byte, error) {
	switch t := r.(type) {
	case actorRecord:
		return json.Marshal(t.Actor)
	case locationRecord:
		return json.Marshal(t.Location)
	case entityRecord:
		return json.Marshal(t.Entity)
	default:
		return nil, fmt.Errorf("world: cannot encode %T", r)
	}
}

// DecodeRecord unmarshals snapshot bytes, dispatching on entity_type.
func DecodeRecord(raw []byte) (Record, error) {
	var probe struct {
		Type string `json:"entity_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("world: decode record: %w", err)
	}
	switch probe.Type {
	case schema.TypeActor:
		var a schema.Actor
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("world: decode actor: %w", err)
		}
		return actorRecord{&a}, nil
	case schema.TypeLocation:
		var l schema.Location
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("world: decode location: %w", err)
		}
		return locationRecord{&l}, nil
	default:
		var e schema.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("world: decode entity: %w", err)
		}
		return entityRecord{&e}, nil
	}
}
