// Package actor implements the perceive -> decide -> act cycle that turns a
// world snapshot into a proposed action. A Cycle never touches the live
// store: it works on a cloned actor and hands the coordinator a proposal.
package actor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrai/internal/llm"
	"scrai/internal/memory"
	"scrai/internal/schema"
	"scrai/internal/sim/action"
)

// Cycle drives decisions for every actor sharing one oracle client. Actors
// with their own provider settings get a dedicated client, cached per actor.
type Cycle struct {
	client   llm.Client
	recorder memory.Recorder
	kinds    []string
	logger   *log.Logger

	baseCfg    llm.Config
	mu         sync.Mutex
	perActor   map[uuid.UUID]llm.Client
	makeClient func(llm.Config) (llm.Client, error)
}

// Option configures a Cycle.
type Option func(*Cycle)

// WithRecorder attaches a long-term memory recorder. Without one, only the
// actor's bounded in-world memory is written.
func WithRecorder(r memory.Recorder) Option {
	return func(c *Cycle) { c.recorder = r }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cycle) { c.logger = l }
}

// WithBaseConfig sets the oracle config per-actor overrides merge into.
func WithBaseConfig(cfg llm.Config) Option {
	return func(c *Cycle) { c.baseCfg = cfg }
}

// New builds a Cycle. client is the default oracle; kinds lists the action
// kinds offered to the oracle.
func New(client llm.Client, kinds []string, opts ...Option) *Cycle {
	c := &Cycle{
		client:     client,
		kinds:      kinds,
		logger:     log.New(log.Writer(), "[actor] ", log.LstdFlags|log.Lmicroseconds),
		baseCfg:    llm.DefaultConfig(),
		perActor:   make(map[uuid.UUID]llm.Client),
		makeClient: llm.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one cognitive cycle for a cloned actor and returns the
// proposed action. It never fails: any oracle problem degrades to a "wait"
// proposal so the round can complete. The perception travels separately in
// the request; the coordinator folds it into the actor's durable short-term
// memory when the round resolves.
func (c *Cycle) Run(ctx context.Context, a *schema.Actor, perception string, round uint64) action.ProposedAction {
	if perception != "" {
		c.record(ctx, a.ID, round, memory.KindPerception, perception)
	}

	if !a.HasAgency {
		return waitProposal(a.ID, round, "no agency")
	}

	client := c.clientFor(a)
	if client == nil || !client.Available() {
		c.logger.Printf("actor=%s round=%d oracle unavailable, waiting", a.Name, round)
		return waitProposal(a.ID, round, "oracle unavailable")
	}

	req := llm.DecisionRequest{
		ActorName:        a.Name,
		ActorDescription: a.Description,
		Status:           a.State.StringOr(schema.StatePosture, ""),
		Goals:            goalLines(a.Cognitive.Goals),
		Memory:           append([]string(nil), a.Cognitive.Memory...),
		Emotions:         a.Cognitive.Emotions,
		Perception:       perception,
		AvailableActions: c.kinds,
	}

	started := time.Now()
	dec, err := client.Decide(ctx, req)
	if err != nil {
		c.logger.Printf("actor=%s round=%d decision failed after %s: %v", a.Name, round, time.Since(started).Round(time.Millisecond), err)
		return waitProposal(a.ID, round, "decision failed")
	}
	if dec.Kind == "" {
		return waitProposal(a.ID, round, "empty decision")
	}

	params := dec.Params
	if params == nil {
		params = schema.Bag{}
	}
	return action.ProposedAction{
		ActorID: a.ID,
		Kind:    dec.Kind,
		Params:  params,
		Round:   round,
	}
}

// RecordOutcome stores what happened to the actor's proposal. The durable
// in-world memory update travels through the action outcome's state changes;
// this only feeds the long-term recorder.
func (c *Cycle) RecordOutcome(ctx context.Context, actorID uuid.UUID, round uint64, out action.Outcome) {
	text := fmt.Sprintf("[%s] %s", out.Result, out.Message)
	c.record(ctx, actorID, round, memory.KindOutcome, text)
}

func (c *Cycle) record(ctx context.Context, actorID uuid.UUID, round uint64, kind memory.EntryKind, text string) {
	if c.recorder == nil {
		return
	}
	e := memory.Entry{ActorID: actorID, Round: round, Kind: kind, Text: text}
	if err := c.recorder.Append(ctx, e); err != nil {
		c.logger.Printf("actor=%s round=%d memory append failed: %v", actorID, round, err)
	}
}

// clientFor returns the default client, or a dedicated one when the actor
// carries its own provider settings. Construction failures fall back to the
// shared client rather than stalling the round.
func (c *Cycle) clientFor(a *schema.Actor) llm.Client {
	s := a.Cognitive.Provider
	if s.Provider == "" && s.Model == "" && s.BaseURL == "" {
		return c.client
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.perActor[a.ID]; ok {
		return cached
	}
	cl, err := c.makeClient(llm.FromSettings(s, c.baseCfg))
	if err != nil {
		c.logger.Printf("actor=%s bad provider settings (%v), using default", a.Name, err)
		cl = c.client
	}
	c.perActor[a.ID] = cl
	return cl
}

func waitProposal(actorID uuid.UUID, round uint64, reason string) action.ProposedAction {
	return action.ProposedAction{
		ActorID: actorID,
		Kind:    action.KindWait,
		Params:  schema.Bag{"reason": schema.String(reason)},
		Round:   round,
	}
}

func goalLines(goals []schema.Goal) []string {
	var out []string
	for _, g := range goals {
		if g.Status == schema.GoalCompleted || g.Status == schema.GoalFailed {
			continue
		}
		out = append(out, g.Description)
	}
	return out
}
