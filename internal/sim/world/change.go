package world

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scrai/internal/schema"
)

// Op selects how a Change is folded into an entity.
type Op string

const (
	// OpSet replaces the addressed field.
	OpSet Op = "set"
	// OpAdjust adds a numeric delta. On emotion fields the result is
	// clamped to [0, 1].
	OpAdjust Op = "adjust"
	// OpAppend appends to short-term memory or to a list-valued field.
	OpAppend Op = "append"
	// OpAddRef and OpRemoveRef edit a location's contained-entity set.
	OpAddRef    Op = "add_ref"
	OpRemoveRef Op = "remove_ref"
)

// Change is a single field mutation. Fields are addressed with dotted
// paths: "state.<key>", "properties.<key>", "emotions.<label>", "memory",
// "contained", "connections.<name>", "name", "description".
type Change struct {
	Field string       `json:"field"`
	Op    Op           `json:"op"`
	Value schema.Value `json:"value"`
}

func Set(field string, v schema.Value) Change {
	return Change{Field: field, Op: OpSet, Value: v}
}

func Adjust(field string, delta float64) Change {
	return Change{Field: field, Op: OpAdjust, Value: schema.Number(delta)}
}

func AppendMemory(entry string) Change {
	return Change{Field: "memory", Op: OpAppend, Value: schema.String(entry)}
}

func AddContained(id uuid.UUID) Change {
	return Change{Field: "contained", Op: OpAddRef, Value: schema.String(id.String())}
}

func RemoveContained(id uuid.UUID) Change {
	return Change{Field: "contained", Op: OpRemoveRef, Value: schema.String(id.String())}
}

// apply folds one change into a record clone. The caller owns the clone;
// an error leaves the live store untouched.
func apply(r Record, c Change) error {
	base := r.Base()

	switch {
	case c.Field == "name":
		s, ok := c.Value.AsString()
		if !ok || c.Op != OpSet {
			return fmt.Errorf("name: want set with string, got %s %v", c.Op, c.Value.Kind())
		}
		base.Name = s
		return nil

	case c.Field == "description":
		s, ok := c.Value.AsString()
		if !ok || c.Op != OpSet {
			return fmt.Errorf("description: want set with string")
		}
		base.Description = s
		return nil

	case strings.HasPrefix(c.Field, "state."):
		return applyBag(base.State, strings.TrimPrefix(c.Field, "state."), c)

	case strings.HasPrefix(c.Field, "properties."):
		return applyBag(base.Properties, strings.TrimPrefix(c.Field, "properties."), c)

	case strings.HasPrefix(c.Field, "emotions."):
		a, ok := AsActor(r)
		if !ok {
			return fmt.Errorf("%s: entity %s is not an actor", c.Field, base.ID)
		}
		label := strings.TrimPrefix(c.Field, "emotions.")
		n, isNum := c.Value.AsNumber()
		if !isNum {
			return fmt.Errorf("%s: want a number", c.Field)
		}
		switch c.Op {
		case OpSet:
			a.Cognitive.SetEmotion(label, n)
		case OpAdjust:
			a.Cognitive.AdjustEmotion(label, n)
		default:
			return fmt.Errorf("%s: unsupported op %s", c.Field, c.Op)
		}
		return nil

	case c.Field == "memory":
		a, ok := AsActor(r)
		if !ok {
			return fmt.Errorf("memory: entity %s is not an actor", base.ID)
		}
		s, isStr := c.Value.AsString()
		if !isStr || c.Op != OpAppend {
			return fmt.Errorf("memory: want append with string")
		}
		a.Cognitive.AddMemory(s)
		return nil

	case strings.HasPrefix(c.Field, "goals."):
		a, ok := AsActor(r)
		if !ok {
			return fmt.Errorf("%s: entity %s is not an actor", c.Field, base.ID)
		}
		return applyGoal(a, strings.TrimPrefix(c.Field, "goals."), c)

	case c.Field == "contained":
		l, ok := AsLocation(r)
		if !ok {
			return fmt.Errorf("contained: entity %s is not a location", base.ID)
		}
		s, isStr := c.Value.AsString()
		if !isStr {
			return fmt.Errorf("contained: want an entity id string")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("contained: bad id %q: %w", s, err)
		}
		switch c.Op {
		case OpAddRef:
			l.AddContained(id)
		case OpRemoveRef:
			l.RemoveContained(id)
		default:
			return fmt.Errorf("contained: unsupported op %s", c.Op)
		}
		return nil

	case strings.HasPrefix(c.Field, "connections."):
		l, ok := AsLocation(r)
		if !ok {
			return fmt.Errorf("%s: entity %s is not a location", c.Field, base.ID)
		}
		name := strings.TrimPrefix(c.Field, "connections.")
		s, isStr := c.Value.AsString()
		if !isStr || c.Op != OpSet {
			return fmt.Errorf("%s: want set with a location id string", c.Field)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("%s: bad id %q: %w", c.Field, s, err)
		}
		if l.Connections == nil {
			l.Connections = map[string]uuid.UUID{}
		}
		l.Connections[name] = id
		return nil

	default:
		return fmt.Errorf("unknown field %q", c.Field)
	}
}

func applyBag(bag schema.Bag, key string, c Change) error {
	switch c.Op {
	case OpSet:
		bag[key] = c.Value
		return nil
	case OpAdjust:
		delta, ok := c.Value.AsNumber()
		if !ok {
			return fmt.Errorf("%s: adjust wants a number", key)
		}
		cur, _ := bag.GetNumber(key)
		bag[key] = schema.Number(cur + delta)
		return nil
	case OpAppend:
		cur, exists := bag[key]
		if !exists {
			bag[key] = schema.List(c.Value)
			return nil
		}
		list, ok := cur.AsList()
		if !ok {
			return fmt.Errorf("%s: append target is not a list", key)
		}
		bag[key] = schema.List(append(append([]schema.Value(nil), list...), c.Value)...)
		return nil
	default:
		return fmt.Errorf("%s: unsupported op %s", key, c.Op)
	}
}

func applyGoal(a *schema.Actor, rest string, c Change) error {
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 || parts[1] != "status" {
		return fmt.Errorf("goals.%s: only status changes are supported", rest)
	}
	goalID, err := uuid.Parse(parts[0])
	if err != nil {
		return fmt.Errorf("goals.%s: bad goal id: %w", rest, err)
	}
	s, ok := c.Value.AsString()
	if !ok || c.Op != OpSet {
		return fmt.Errorf("goals.%s: want set with status string", rest)
	}
	status := schema.GoalStatus(s)
	switch status {
	case schema.GoalPending, schema.GoalActive, schema.GoalCompleted, schema.GoalFailed:
	default:
		return fmt.Errorf("goals.%s: unknown status %q", rest, s)
	}
	for i := range a.Cognitive.Goals {
		if a.Cognitive.Goals[i].ID == goalID {
			a.Cognitive.Goals[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("goals.%s: goal not found", rest)
}
