// Package engine drives the simulation round loop. A single goroutine owns
// phase transitions and all store mutation ordering; decision collection is
// the only concurrent part, and it works on clones.
package engine

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"scrai/internal/schema"
	"scrai/internal/sim/action"
	"scrai/internal/sim/actor"
	"scrai/internal/sim/bus"
	"scrai/internal/sim/world"

	plog "scrai/internal/persistence/log"
	"scrai/internal/persistence/snapshot"
)

// Phase names the engine's position in the round lifecycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseResolving
	PhaseAdvancing
	PhasePaused
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseResolving:
		return "resolving"
	case PhaseAdvancing:
		return "advancing"
	case PhasePaused:
		return "paused"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config tunes one engine instance.
type Config struct {
	SimulationID string

	// MaxInFlight bounds concurrent oracle calls during Collecting.
	MaxInFlight int
	// DecideTimeout caps each actor's decision; on expiry the actor waits.
	DecideTimeout time.Duration
	// RoundInterval paces Run; zero runs rounds back to back.
	RoundInterval time.Duration
	// MaxRounds stops Run after that many rounds; zero means unbounded.
	MaxRounds uint64

	// SnapshotEveryRounds writes a snapshot each N completed rounds into
	// SnapshotDir; zero disables snapshots.
	SnapshotEveryRounds int
	SnapshotDir         string
}

func (c *Config) fillDefaults() {
	if c.SimulationID == "" {
		c.SimulationID = "simulation"
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.DecideTimeout <= 0 {
		c.DecideTimeout = 30 * time.Second
	}
}

// RoundLogger journals completed rounds.
type RoundLogger interface {
	WriteRound(plog.RoundEntry) error
}

// ResolvedAction pairs a proposal with its outcome.
type ResolvedAction struct {
	Proposal action.ProposedAction
	Outcome  action.Outcome
}

// RoundReport summarizes one completed round.
type RoundReport struct {
	Round    uint64
	Actors   int
	Actions  []ResolvedAction
	Digest   string
	Duration time.Duration
}

// Engine coordinates collection, resolution, and advancement.
type Engine struct {
	cfg     Config
	store   *world.Store
	bus     *bus.Bus
	manager *action.Manager
	cycle   *actor.Cycle
	perc    PerceptionProvider
	pacer   TimePolicy
	logger  *log.Logger

	roundLog RoundLogger

	round atomic.Uint64
	phase atomic.Int32

	pause    chan struct{}
	resume   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	injectMu     sync.Mutex
	injectedActs []action.ProposedAction
	scheduled    map[uint64][]schema.Event

	// sink receives every snapshot the engine writes; sends never block.
	sink chan snapshot.SnapshotV1
}

// Option configures an Engine.
type Option func(*Engine)

// WithPerception replaces the default local-surroundings provider.
func WithPerception(p PerceptionProvider) Option {
	return func(e *Engine) { e.perc = p }
}

// WithTimePolicy replaces interval pacing.
func WithTimePolicy(tp TimePolicy) Option {
	return func(e *Engine) { e.pacer = tp }
}

// WithRoundLogger attaches a round journal.
func WithRoundLogger(l RoundLogger) Option {
	return func(e *Engine) { e.roundLog = l }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(cfg Config, store *world.Store, b *bus.Bus, mgr *action.Manager, cyc *actor.Cycle, opts ...Option) *Engine {
	cfg.fillDefaults()
	e := &Engine{
		cfg:       cfg,
		store:     store,
		bus:       b,
		manager:   mgr,
		cycle:     cyc,
		perc:      LocalPerception{},
		logger:    log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds),
		pause:     make(chan struct{}, 1),
		resume:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		scheduled: make(map[uint64][]schema.Event),
		sink:      make(chan snapshot.SnapshotV1, 4),
	}
	if cfg.RoundInterval > 0 {
		e.pacer = IntervalPolicy{Interval: cfg.RoundInterval}
	} else {
		e.pacer = ImmediatePolicy{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Round returns the last completed round number.
func (e *Engine) Round() uint64 { return e.round.Load() }

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Engine) setPhase(p Phase) { e.phase.Store(int32(p)) }

// Snapshots exposes the snapshot sink. Receivers that fall behind miss
// snapshots; the files on disk are complete.
func (e *Engine) Snapshots() <-chan snapshot.SnapshotV1 { return e.sink }

// Pause requests a pause at the next round boundary.
func (e *Engine) Pause() {
	select {
	case e.pause <- struct{}{}:
	default:
	}
}

// Resume continues a paused engine.
func (e *Engine) Resume() {
	select {
	case e.resume <- struct{}{}:
	default:
	}
}

// Stop halts the loop at the next round boundary. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// InjectAction queues an external proposal. It resolves in the next round,
// after every actor-proposed action.
func (e *Engine) InjectAction(pa action.ProposedAction) {
	e.injectMu.Lock()
	e.injectedActs = append(e.injectedActs, pa)
	e.injectMu.Unlock()
}

// ScheduleEvent publishes ev when the given round begins.
func (e *Engine) ScheduleEvent(round uint64, ev schema.Event) {
	e.injectMu.Lock()
	e.scheduled[round] = append(e.scheduled[round], ev)
	e.injectMu.Unlock()
}

// Run executes rounds until the context ends, Stop is called, or MaxRounds
// completes. Pause and Resume are honored only between rounds.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setPhase(PhaseStopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case <-e.pause:
			e.setPhase(PhasePaused)
			e.logger.Printf("paused at round %d", e.Round())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.stop:
				return nil
			case <-e.resume:
				e.setPhase(PhaseIdle)
				e.logger.Printf("resumed")
			}
		default:
		}

		if err := e.pacer.Pace(ctx, e.Round()); err != nil {
			return err
		}

		if _, err := e.StepOnce(ctx); err != nil {
			return err
		}
		if e.cfg.MaxRounds > 0 && e.Round() >= e.cfg.MaxRounds {
			return nil
		}
	}
}

// StepOnce runs exactly one round: collect proposals concurrently, resolve
// them serially in deterministic order, then advance the round counter.
func (e *Engine) StepOnce(ctx context.Context) (RoundReport, error) {
	round := e.round.Load() + 1
	started := time.Now()

	e.publishScheduled(round)

	e.setPhase(PhaseCollecting)
	proposals, perceptions := e.collect(ctx, round)

	e.setPhase(PhaseResolving)
	e.applyPerceptions(perceptions)
	resolved := make([]ResolvedAction, 0, len(proposals))
	for _, pa := range proposals {
		out := e.manager.Resolve(pa)
		e.cycle.RecordOutcome(ctx, pa.ActorID, round, out)
		resolved = append(resolved, ResolvedAction{Proposal: pa, Outcome: out})
	}

	e.setPhase(PhaseAdvancing)
	e.round.Store(round)
	digest := e.store.Digest()

	report := RoundReport{
		Round:    round,
		Actors:   len(proposals),
		Actions:  resolved,
		Digest:   digest,
		Duration: time.Since(started),
	}

	e.publishRoundCompleted(report)
	e.journal(report, started)
	e.maybeSnapshot(round)

	e.setPhase(PhaseIdle)
	e.logger.Printf("round=%d actions=%d digest=%s took=%s", round, len(resolved), digest[:12], report.Duration.Round(time.Millisecond))
	return report, nil
}

// perceived pairs an actor with what it perceived at round start, so the
// perception can be folded into its durable memory once collection ends.
type perceived struct {
	ActorID uuid.UUID
	Text    string
}

// collect fans out one cognitive cycle per agent actor, bounded by
// MaxInFlight. Results keep the deterministic actor order regardless of
// which oracle answers first; injected actions follow actor actions.
func (e *Engine) collect(ctx context.Context, round uint64) ([]action.ProposedAction, []perceived) {
	actors := e.store.Actors()
	sort.SliceStable(actors, func(i, j int) bool {
		if actors[i].Priority != actors[j].Priority {
			return actors[i].Priority > actors[j].Priority
		}
		return actors[i].ID.String() < actors[j].ID.String()
	})

	proposals := make([]action.ProposedAction, len(actors))
	perceptions := make([]perceived, len(actors))
	sem := make(chan struct{}, e.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for i, a := range actors {
		wg.Add(1)
		go func(i int, a *schema.Actor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			perception := e.perc.Perceive(a, e.store, round)
			perceptions[i] = perceived{ActorID: a.ID, Text: perception}
			cctx, cancel := context.WithTimeout(ctx, e.cfg.DecideTimeout)
			defer cancel()
			proposals[i] = e.cycle.Run(cctx, a, perception, round)
		}(i, a)
	}
	wg.Wait()

	e.injectMu.Lock()
	injected := e.injectedActs
	e.injectedActs = nil
	e.injectMu.Unlock()
	for _, pa := range injected {
		pa.Round = round
		proposals = append(proposals, pa)
	}
	return proposals, perceptions
}

// applyPerceptions writes each actor's round-start perception into its
// durable short-term memory, in the same deterministic actor order, before
// any action of the round resolves.
func (e *Engine) applyPerceptions(perceptions []perceived) {
	for _, p := range perceptions {
		if p.Text == "" {
			continue
		}
		if _, err := e.store.ApplyChanges(p.ActorID, []world.Change{world.AppendMemory(p.Text)}); err != nil {
			e.logger.Printf("perception for %s not recorded: %v", p.ActorID, err)
		}
	}
}

func (e *Engine) publishScheduled(round uint64) {
	e.injectMu.Lock()
	events := e.scheduled[round]
	delete(e.scheduled, round)
	e.injectMu.Unlock()
	for _, ev := range events {
		ev.Round = round
		e.bus.Publish(ev)
	}
}

func (e *Engine) publishRoundCompleted(report RoundReport) {
	ev := schema.NewEvent(schema.EventRoundCompleted, schema.Bag{
		"actions": schema.Number(float64(len(report.Actions))),
		"digest":  schema.String(report.Digest),
	})
	ev.Round = report.Round
	e.bus.Publish(ev)
}

func (e *Engine) journal(report RoundReport, started time.Time) {
	if e.roundLog == nil {
		return
	}
	entry := plog.RoundEntry{
		Round:      report.Round,
		StartedAt:  started.UTC(),
		DurationMS: report.Duration.Milliseconds(),
		Actors:     report.Actors,
		Digest:     report.Digest,
	}
	for _, ra := range report.Actions {
		entry.Actions = append(entry.Actions, plog.ActionRecord{
			ActorID: ra.Proposal.ActorID.String(),
			Kind:    ra.Proposal.Kind,
			Params:  ra.Proposal.Params,
			Result:  string(ra.Outcome.Result),
			Message: ra.Outcome.Message,
		})
	}
	if err := e.roundLog.WriteRound(entry); err != nil {
		e.logger.Printf("round=%d journal write failed: %v", report.Round, err)
	}
}

func (e *Engine) maybeSnapshot(round uint64) {
	if e.cfg.SnapshotEveryRounds <= 0 || round%uint64(e.cfg.SnapshotEveryRounds) != 0 {
		return
	}
	snap, err := snapshot.Capture(e.cfg.SimulationID, round, e.store)
	if err != nil {
		e.logger.Printf("round=%d snapshot capture failed: %v", round, err)
		return
	}
	if e.cfg.SnapshotDir != "" {
		path := snapshot.PathFor(e.cfg.SnapshotDir, round)
		if err := snapshot.Write(path, snap); err != nil {
			e.logger.Printf("round=%d snapshot write failed: %v", round, err)
		}
	}
	select {
	case e.sink <- snap:
	default:
	}
}

// TimePolicy paces the loop between rounds.
type TimePolicy interface {
	Pace(ctx context.Context, completedRound uint64) error
}

// ImmediatePolicy runs rounds back to back.
type ImmediatePolicy struct{}

func (ImmediatePolicy) Pace(context.Context, uint64) error { return nil }

// IntervalPolicy sleeps a fixed interval between rounds.
type IntervalPolicy struct {
	Interval time.Duration
}

func (p IntervalPolicy) Pace(ctx context.Context, _ uint64) error {
	t := time.NewTimer(p.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
