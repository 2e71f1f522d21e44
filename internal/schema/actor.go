package schema

import (
	"time"

	"github.com/google/uuid"
)

// GoalStatus is the lifecycle state of an actor goal.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
)

// Goal is one entry in an actor's ordered goal list.
type Goal struct {
	ID          uuid.UUID  `json:"id"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	Priority    int        `json:"priority"`
}

// ProviderSettings routes an actor's decisions to a specific oracle backend.
// Selection is static per actor; it is never renegotiated mid-run.
type ProviderSettings struct {
	Provider    string        `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL     string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Temperature float64       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"-" yaml:"-"`
}

// DefaultMemoryCap bounds short-term memory when the definition does not
// configure one. Oldest entries are evicted first.
const DefaultMemoryCap = 10

// CognitiveState is the mutable "mind" of an actor: goals, emotions, a
// bounded short-term memory, and decision routing.
type CognitiveState struct {
	Goals     []Goal             `json:"current_goals"`
	Emotions  map[string]float64 `json:"emotions"`
	Memory    []string           `json:"short_term_memory"`
	MemoryCap int                `json:"memory_cap,omitempty"`
	Provider  ProviderSettings   `json:"llm_provider_settings,omitempty"`
}

func (c *CognitiveState) Clone() CognitiveState {
	out := *c
	out.Goals = append([]Goal(nil), c.Goals...)
	out.Memory = append([]string(nil), c.Memory...)
	out.Emotions = make(map[string]float64, len(c.Emotions))
	for k, v := range c.Emotions {
		out.Emotions[k] = v
	}
	return out
}

// AddMemory appends an entry, evicting the oldest entries beyond the cap.
func (c *CognitiveState) AddMemory(entry string) {
	cap := c.MemoryCap
	if cap <= 0 {
		cap = DefaultMemoryCap
	}
	c.Memory = append(c.Memory, entry)
	if len(c.Memory) > cap {
		c.Memory = c.Memory[len(c.Memory)-cap:]
	}
}

// SetEmotion assigns an intensity, clamped to [0, 1].
func (c *CognitiveState) SetEmotion(label string, intensity float64) {
	if c.Emotions == nil {
		c.Emotions = map[string]float64{}
	}
	c.Emotions[label] = clamp01(intensity)
}

// AdjustEmotion applies a delta to an intensity, clamped to [0, 1].
func (c *CognitiveState) AdjustEmotion(label string, delta float64) {
	if c.Emotions == nil {
		c.Emotions = map[string]float64{}
	}
	c.Emotions[label] = clamp01(c.Emotions[label] + delta)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Actor is an Entity with agency: it carries a cognitive state and proposes
// actions through the decision pipeline each round.
type Actor struct {
	Entity
	HasAgency bool           `json:"has_agency"`
	Priority  int            `json:"priority,omitempty"`
	Cognitive CognitiveState `json:"cognitive_core"`
}

func NewActor(name string) *Actor {
	a := &Actor{
		Entity:    *NewEntity(name),
		HasAgency: true,
		Cognitive: CognitiveState{Emotions: map[string]float64{}},
	}
	a.Type = TypeActor
	return a
}

func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}
	out := *a
	out.Entity = *a.Entity.Clone()
	out.Cognitive = a.Cognitive.Clone()
	return &out
}

// LocationID returns the actor's current location, if placed.
func (a *Actor) LocationID() (uuid.UUID, bool) {
	s, ok := a.State.GetString(StateLocationID)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
