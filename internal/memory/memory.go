// Package memory is the long-term memory collaborator. The world store keeps
// only each actor's short bounded memory window; everything an actor ever
// perceived or did lands here so later rounds (and post-run analysis) can
// query it.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryKind distinguishes what produced a memory.
type EntryKind string

const (
	KindPerception EntryKind = "perception"
	KindOutcome    EntryKind = "outcome"
	KindReflection EntryKind = "reflection"
)

// Entry is one remembered item for one actor.
type Entry struct {
	ActorID    uuid.UUID `json:"actor_id"`
	Round      uint64    `json:"round"`
	Kind       EntryKind `json:"kind"`
	Text       string    `json:"text"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Query selects entries for a single actor. Zero fields mean "no filter";
// Limit 0 means no limit. Results come back oldest first.
type Query struct {
	ActorID   uuid.UUID
	Kind      EntryKind
	FromRound uint64
	ToRound   uint64
	Limit     int
}

// Recorder stores and recalls memories. Append must be safe to call from
// concurrent actor cycles.
type Recorder interface {
	Append(ctx context.Context, e Entry) error
	Recall(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}

// InMemory is a Recorder backed by a slice, for tests and ephemeral runs.
type InMemory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewInMemory() *InMemory { return &InMemory{} }

func (m *InMemory) Append(ctx context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *InMemory) Recall(ctx context.Context, q Query) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if !matches(e, q) {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (m *InMemory) Close() error { return nil }

func matches(e Entry, q Query) bool {
	if q.ActorID != uuid.Nil && e.ActorID != q.ActorID {
		return false
	}
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if q.FromRound != 0 && e.Round < q.FromRound {
		return false
	}
	if q.ToRound != 0 && e.Round > q.ToRound {
		return false
	}
	return true
}
