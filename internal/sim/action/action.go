// Package action turns an actor's proposed action into a world-state
// mutation. The registry maps action kinds to pure validator/executor pairs;
// the manager drives each proposal through
// Proposed -> Validated -> Executed -> Applied, or short-circuits to
// Rejected, and is the only component that writes to the store.
package action

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"scrai/internal/schema"
	"scrai/internal/sim/world"
)

// Result classifies an action outcome.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultBlocked Result = "blocked"
	ResultInvalid Result = "invalid"
)

// ProposedAction is an actor's declared intent for one round, not yet
// validated.
type ProposedAction struct {
	ActorID uuid.UUID  `json:"actor_id"`
	Kind    string     `json:"kind"`
	Params  schema.Bag `json:"parameters"`
	Round   uint64     `json:"round"`
}

// StateChange is one computed mutation: entity, field, operation, value.
type StateChange struct {
	EntityID uuid.UUID `json:"entity_id"`
	world.Change
}

// Outcome is the computed result of executing an action. Executors build it
// without touching the store; the manager applies it.
type Outcome struct {
	Result  Result        `json:"result"`
	Message string        `json:"message"`
	Changes []StateChange `json:"state_changes,omitempty"`
	Events  []schema.Event `json:"events,omitempty"`
}

func Success(message string) Outcome {
	return Outcome{Result: ResultSuccess, Message: message}
}

func Failed(message string) Outcome {
	return Outcome{Result: ResultFailed, Message: message}
}

func (o Outcome) WithChange(entityID uuid.UUID, c world.Change) Outcome {
	o.Changes = append(o.Changes, StateChange{EntityID: entityID, Change: c})
	return o
}

func (o Outcome) WithEvent(e schema.Event) Outcome {
	o.Events = append(o.Events, e)
	return o
}

// ValidationError marks a structural problem: unknown kind, missing or
// malformed parameter, reference to an entity that does not exist. Maps to
// an INVALID outcome.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// PreconditionError marks a contextual problem: the action is well-formed
// but not currently permissible. Maps to a BLOCKED outcome.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

func Invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func Blockedf(format string, args ...any) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// Validator checks a proposal against snapshots of the acting actor and the
// world. It must be pure: no store writes, no retained references.
type Validator func(pa ProposedAction, actor *schema.Actor, w world.Reader) error

// Executor computes the outcome of a validated proposal against the same
// snapshots. It must not write to the store; it only describes changes.
type Executor func(pa ProposedAction, actor *schema.Actor, w world.Reader) (Outcome, error)

var errUnknownKind = errors.New("unknown action kind")
