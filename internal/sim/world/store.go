// Package world holds the authoritative entity store. The store enforces
// structural invariants only (id uniqueness, referential fields); whether a
// mutation makes sense for the simulation is the action manager's business.
package world

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"scrai/internal/schema"
)

var (
	ErrNotFound = errors.New("entity not found")
	ErrExists   = errors.New("entity id already present")

	// ErrConsistency marks a referential-invariant violation detected
	// while applying changes. It fails the offending action, never the
	// round.
	ErrConsistency = errors.New("store consistency violation")
)

// Reader is the read-only view handed to validators, executors and the
// perception provider. All returned records are clones.
type Reader interface {
	Get(id uuid.UUID) (Record, error)
	FindByName(name string) (Record, bool)
	LocationOf(entityID uuid.UUID) (*schema.Location, error)
}

type slot struct {
	mu  sync.Mutex // serializes writes to this entity
	rec Record
}

// Store maps entity id to entity record. Readers run concurrently; writers
// to different entities run concurrently; writers to the same entity are
// mutually exclusive via the per-entity lock.
type Store struct {
	mu    sync.RWMutex // guards the map structure itself
	slots map[uuid.UUID]*slot
}

func NewStore() *Store {
	return &Store{slots: map[uuid.UUID]*slot{}}
}

// Put inserts a new entity. The id must not already be present.
func (s *Store) Put(v any) error {
	rec, err := Wrap(v)
	if err != nil {
		return err
	}
	id := rec.Base().ID
	if id == uuid.Nil {
		return fmt.Errorf("put: %w: nil id", ErrConsistency)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; ok {
		return fmt.Errorf("put %s: %w", id, ErrExists)
	}
	s.slots[id] = &slot{rec: rec.CloneRecord()}
	return nil
}

// Get returns a deep copy of the entity.
func (s *Store) Get(id uuid.UUID) (Record, error) {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.rec.CloneRecord(), nil
}

// GetActor is Get plus an actor type check.
func (s *Store) GetActor(id uuid.UUID) (*schema.Actor, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	a, ok := AsActor(rec)
	if !ok {
		return nil, fmt.Errorf("get %s: entity is not an actor", id)
	}
	return a, nil
}

// GetLocation is Get plus a location type check.
func (s *Store) GetLocation(id uuid.UUID) (*schema.Location, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	l, ok := AsLocation(rec)
	if !ok {
		return nil, fmt.Errorf("get %s: entity is not a location", id)
	}
	return l, nil
}

// Remove deletes an entity. Missing ids are reported as ErrNotFound.
func (s *Store) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	delete(s.slots, id)
	return nil
}

// FindByName returns the first entity whose name matches, scanning ids in
// sorted order so lookups are deterministic. Names are matched
// case-insensitively.
func (s *Store) FindByName(name string) (Record, bool) {
	for _, id := range s.ids() {
		rec, err := s.Get(id)
		if err != nil {
			continue
		}
		if strings.EqualFold(rec.Base().Name, name) {
			return rec, true
		}
	}
	return nil, false
}

// LocationOf resolves the location an entity currently sits in, via its
// current_location_id state field.
func (s *Store) LocationOf(entityID uuid.UUID) (*schema.Location, error) {
	rec, err := s.Get(entityID)
	if err != nil {
		return nil, err
	}
	locStr, ok := rec.Base().State.GetString(schema.StateLocationID)
	if !ok {
		return nil, fmt.Errorf("entity %s has no location", entityID)
	}
	locID, err := uuid.Parse(locStr)
	if err != nil {
		return nil, fmt.Errorf("entity %s: bad location id %q", entityID, locStr)
	}
	return s.GetLocation(locID)
}

// ApplyChanges atomically applies all changes to one entity. Either every
// change lands or none does.
func (s *Store) ApplyChanges(id uuid.UUID, changes []Change) (Record, error) {
	var out Record
	err := s.ApplyAll(map[uuid.UUID][]Change{id: changes})
	if err != nil {
		return nil, err
	}
	out, err = s.Get(id)
	return out, err
}

// ApplyAll applies change groups to several entities with all-or-nothing
// semantics across the whole set. Entity locks are taken in sorted id order
// so concurrent callers cannot deadlock; each entity's new state is computed
// on a clone and swapped in only after every group has applied cleanly.
func (s *Store) ApplyAll(groups map[uuid.UUID][]Change) error {
	if len(groups) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	s.mu.RLock()
	slots := make([]*slot, 0, len(ids))
	for _, id := range ids {
		sl, ok := s.slots[id]
		if !ok {
			s.mu.RUnlock()
			return fmt.Errorf("apply %s: %w", id, ErrNotFound)
		}
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	for _, sl := range slots {
		sl.mu.Lock()
	}
	defer func() {
		for _, sl := range slots {
			sl.mu.Unlock()
		}
	}()

	staged := make([]Record, len(ids))
	for i, id := range ids {
		clone := slots[i].rec.CloneRecord()
		for _, c := range groups[id] {
			if err := apply(clone, c); err != nil {
				return fmt.Errorf("apply %s %s: %w: %v", id, c.Field, ErrConsistency, err)
			}
		}
		staged[i] = clone
	}
	for i := range ids {
		slots[i].rec = staged[i]
	}
	return nil
}

// ids returns all entity ids in sorted order.
func (s *Store) ids() []uuid.UUID {
	s.mu.RLock()
	out := make([]uuid.UUID, 0, len(s.slots))
	for id := range s.slots {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// All returns clones of every record, sorted by id.
func (s *Store) All() []Record {
	ids := s.ids()
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Actors returns clones of every actor with agency, sorted by id.
func (s *Store) Actors() []*schema.Actor {
	var out []*schema.Actor
	for _, rec := range s.All() {
		if a, ok := AsActor(rec); ok && a.HasAgency {
			out = append(out, a)
		}
	}
	return out
}

// Len reports the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// ValidateRefs checks the declared referential invariants: every contained
// entity id and every connection target must point at an existing entity.
func (s *Store) ValidateRefs() error {
	for _, rec := range s.All() {
		l, ok := AsLocation(rec)
		if !ok {
			continue
		}
		for _, id := range l.Contained {
			if _, err := s.Get(id); err != nil {
				return fmt.Errorf("location %s contains missing entity %s: %w", l.ID, id, ErrConsistency)
			}
		}
		for name, target := range l.Connections {
			if _, err := s.GetLocation(target); err != nil {
				return fmt.Errorf("location %s connection %q points at missing location %s: %w", l.ID, name, target, ErrConsistency)
			}
		}
	}
	return nil
}

// Digest hashes the canonical serialized world state. Identical states
// produce identical digests; used by the round log and determinism tests.
func (s *Store) Digest() string {
	h := sha256.New()
	for _, rec := range s.All() {
		b, err := EncodeRecord(rec)
		if err != nil {
			continue
		}
		h.Write(b)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
