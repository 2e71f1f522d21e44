package action

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"scrai/internal/schema"
	"scrai/internal/sim/bus"
	"scrai/internal/sim/world"
)

// Manager validates, executes and applies proposed actions, one at a time.
// It is the single serialization point for world mutation: the coordinator
// feeds it actions in a deterministic order during the Resolving phase, and
// no two actions' state changes ever interleave.
type Manager struct {
	registry *Registry
	store    *world.Store
	bus      *bus.Bus
	logger   *log.Logger
}

func NewManager(registry *Registry, store *world.Store, b *bus.Bus, logger *log.Logger) *Manager {
	return &Manager{registry: registry, store: store, bus: b, logger: logger}
}

// Resolve runs one proposal through the full state machine and returns its
// outcome. Failures are always contained to this one action.
func (m *Manager) Resolve(pa ProposedAction) Outcome {
	outcome := m.resolve(pa)
	m.publish(pa, outcome)
	return outcome
}

func (m *Manager) resolve(pa ProposedAction) Outcome {
	def, ok := m.registry.Lookup(pa.Kind)
	if !ok {
		return Outcome{
			Result:  ResultInvalid,
			Message: fmt.Sprintf("%s: %s", errUnknownKind, pa.Kind),
		}
	}

	actor, err := m.store.GetActor(pa.ActorID)
	if err != nil {
		return Outcome{
			Result:  ResultInvalid,
			Message: fmt.Sprintf("acting entity not found: %s", pa.ActorID),
		}
	}

	if def.Validate != nil {
		if err := def.Validate(pa, actor, m.store); err != nil {
			return classify(err)
		}
	}

	outcome, err := def.Execute(pa, actor, m.store)
	if err != nil {
		// Executors report domain failures in the outcome; an error
		// return is a structural/contextual problem found late.
		return classify(err)
	}
	if outcome.Result == ResultBlocked || outcome.Result == ResultInvalid {
		return outcome
	}

	if err := m.applyChanges(outcome.Changes); err != nil {
		if m.logger != nil {
			m.logger.Printf("apply %s for %s: %v", pa.Kind, pa.ActorID, err)
		}
		return Outcome{
			Result:  ResultFailed,
			Message: fmt.Sprintf("%s (no changes applied: %v)", outcome.Message, err),
		}
	}
	return outcome
}

// applyChanges groups the outcome's state changes per entity and applies
// them atomically across the whole set. Any failure leaves the store exactly
// as it was.
func (m *Manager) applyChanges(changes []StateChange) error {
	if len(changes) == 0 {
		return nil
	}
	groups := make(map[uuid.UUID][]world.Change)
	for _, sc := range changes {
		groups[sc.EntityID] = append(groups[sc.EntityID], sc.Change)
	}
	return m.store.ApplyAll(groups)
}

// publish emits one resolution event for every action, then the outcome's
// derived events, each tagged with the acting actor and the round the action
// was proposed in. Rejected (blocked or invalid) actions still get their
// resolution event so drivers and observers can see why nothing happened,
// but produce no derived events.
func (m *Manager) publish(pa ProposedAction, outcome Outcome) {
	if m.bus == nil {
		return
	}
	res := schema.NewEvent(schema.EventActionResolved, schema.Bag{
		"kind":    schema.String(pa.Kind),
		"result":  schema.String(string(outcome.Result)),
		"message": schema.String(outcome.Message),
	}).WithSource(pa.ActorID)
	res.Round = pa.Round
	m.bus.Publish(res)

	if outcome.Result != ResultSuccess && outcome.Result != ResultFailed {
		return
	}
	for _, e := range outcome.Events {
		e.Round = pa.Round
		if e.Source == nil {
			e = e.WithSource(pa.ActorID)
		}
		if e.Metadata == nil {
			e.Metadata = map[string]string{}
		}
		e.Metadata["actor_id"] = pa.ActorID.String()
		m.bus.Publish(e)
	}
}

func classify(err error) Outcome {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Outcome{Result: ResultInvalid, Message: ve.Reason}
	}
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return Outcome{Result: ResultBlocked, Message: pe.Reason}
	}
	if errors.Is(err, world.ErrNotFound) || errors.Is(err, world.ErrConsistency) {
		return Outcome{Result: ResultFailed, Message: err.Error()}
	}
	return Outcome{Result: ResultFailed, Message: fmt.Sprintf("action failed: %v", err)}
}
