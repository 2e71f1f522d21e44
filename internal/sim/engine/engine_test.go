package engine

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"scrai/internal/llm"
	"scrai/internal/persistence/snapshot"
	"scrai/internal/schema"
	"scrai/internal/sim/action"
	"scrai/internal/sim/actor"
	"scrai/internal/sim/bus"
	"scrai/internal/sim/world"
)

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fixture struct {
	store  *world.Store
	bus    *bus.Bus
	engine *Engine
	leo    *schema.Actor
	maya   *schema.Actor
	chapel *schema.Location
	garden *schema.Location
}

func newFixture(t *testing.T, client llm.Client, cfg Config, opts ...Option) *fixture {
	t.Helper()
	store := world.NewStore()
	b := bus.New(quiet())
	t.Cleanup(b.Close)

	chapel := schema.NewLocation("Chapel")
	chapel.ID = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001")
	garden := schema.NewLocation("Garden")
	garden.ID = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
	chapel.Connections["north door"] = garden.ID
	garden.Connections["south door"] = chapel.ID

	leo := schema.NewActor("Leo")
	leo.ID = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000011")
	maya := schema.NewActor("Maya")
	maya.ID = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000012")
	for _, a := range []*schema.Actor{leo, maya} {
		a.State[schema.StateLocationID] = schema.String(chapel.ID.String())
		chapel.AddContained(a.ID)
	}

	for _, v := range []any{chapel, garden, leo, maya} {
		if err := store.Put(v); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	reg := action.NewRegistry()
	if err := action.RegisterDefaults(reg); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}
	mgr := action.NewManager(reg, store, b, quiet())
	cyc := actor.New(client, reg.Kinds(), actor.WithLogger(quiet()))

	opts = append(opts, WithLogger(quiet()))
	eng := New(cfg, store, b, mgr, cyc, opts...)
	return &fixture{store: store, bus: b, engine: eng, leo: leo, maya: maya, chapel: chapel, garden: garden}
}

// promote raises an actor's priority above the default. The store owns the
// canonical record, so the entry is replaced wholesale.
func (f *fixture) promote(t *testing.T, a *schema.Actor) {
	t.Helper()
	a.Priority = 10
	if err := f.store.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.store.Put(a); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

// nameClient answers per actor name, so concurrent collection still yields
// a known decision for each actor.
type nameClient map[string]llm.Decision

func (nameClient) Available() bool { return true }

func (c nameClient) Decide(_ context.Context, req llm.DecisionRequest) (llm.Decision, error) {
	if d, ok := c[req.ActorName]; ok {
		return d, nil
	}
	return llm.Decision{Kind: action.KindWait}, nil
}

func collectEvents(t *testing.T, b *bus.Bus, pattern string) chan schema.Event {
	t.Helper()
	ch := make(chan schema.Event, 64)
	b.Subscribe(pattern, func(e schema.Event) { ch <- e })
	return ch
}

func waitEvent(t *testing.T, ch chan schema.Event) schema.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return schema.Event{}
	}
}

func TestEngine_StepOnceCompletesRound(t *testing.T) {
	mock := llm.NewMock()
	f := newFixture(t, mock, Config{MaxInFlight: 2, DecideTimeout: time.Second})
	completed := collectEvents(t, f.bus, schema.EventRoundCompleted)

	report, err := f.engine.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if report.Round != 1 || f.engine.Round() != 1 {
		t.Fatalf("round = %d / %d, want 1", report.Round, f.engine.Round())
	}
	if len(report.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(report.Actions))
	}
	for _, ra := range report.Actions {
		if ra.Outcome.Result != action.ResultSuccess {
			t.Fatalf("outcome = %+v", ra.Outcome)
		}
	}
	if report.Digest != f.store.Digest() {
		t.Fatalf("report digest does not match store")
	}

	ev := waitEvent(t, completed)
	if ev.Round != 1 {
		t.Fatalf("event round = %d, want 1", ev.Round)
	}
	if n, _ := ev.Data.GetNumber("actions"); n != 2 {
		t.Fatalf("event actions = %v, want 2", n)
	}
}

func TestEngine_PerceptionPersistsInActorMemory(t *testing.T) {
	f := newFixture(t, llm.NewMock(), Config{DecideTimeout: time.Second})

	if _, err := f.engine.StepOnce(context.Background()); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}

	leo, err := f.store.GetActor(f.leo.ID)
	if err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	mem := leo.Cognitive.Memory
	if len(mem) < 2 {
		t.Fatalf("memory = %v, want perception and outcome entries", mem)
	}
	if !strings.HasPrefix(mem[0], "You are in Chapel.") {
		t.Fatalf("first memory = %q, want the round's perception", mem[0])
	}
	if mem[1] != "Leo waits" {
		t.Fatalf("second memory = %q, want the action's trace", mem[1])
	}

	// The next round perceives again; memory keeps accumulating.
	if _, err := f.engine.StepOnce(context.Background()); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	leo, _ = f.store.GetActor(f.leo.ID)
	if len(leo.Cognitive.Memory) != 4 {
		t.Fatalf("memory after two rounds = %v", leo.Cognitive.Memory)
	}
}

func TestEngine_RoundsIncrementStrictly(t *testing.T) {
	f := newFixture(t, llm.NewMock(), Config{DecideTimeout: time.Second})
	for want := uint64(1); want <= 5; want++ {
		report, err := f.engine.StepOnce(context.Background())
		if err != nil {
			t.Fatalf("StepOnce: %v", err)
		}
		if report.Round != want {
			t.Fatalf("round = %d, want %d", report.Round, want)
		}
	}
}

func TestEngine_SlowOracleDegradesToWait(t *testing.T) {
	mock := llm.NewMock().WithDelay(5 * time.Second)
	f := newFixture(t, mock, Config{MaxInFlight: 2, DecideTimeout: 30 * time.Millisecond})

	start := time.Now()
	report, err := f.engine.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("round took %v, should be bounded by decide timeout", elapsed)
	}
	if len(report.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(report.Actions))
	}
	for _, ra := range report.Actions {
		if ra.Proposal.Kind != action.KindWait {
			t.Fatalf("kind = %q, want wait", ra.Proposal.Kind)
		}
		if ra.Outcome.Result != action.ResultSuccess {
			t.Fatalf("wait outcome = %+v", ra.Outcome)
		}
	}
}

func TestEngine_ResolutionOrderIsDeterministic(t *testing.T) {
	f := newFixture(t, llm.NewMock(), Config{MaxInFlight: 2, DecideTimeout: time.Second})
	f.promote(t, f.maya)

	report, err := f.engine.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if len(report.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(report.Actions))
	}
	if report.Actions[0].Proposal.ActorID != f.maya.ID {
		t.Fatalf("higher priority actor should resolve first")
	}
	if report.Actions[1].Proposal.ActorID != f.leo.ID {
		t.Fatalf("second action should be Leo's")
	}
}

func TestEngine_InjectedActionsResolveAfterActors(t *testing.T) {
	f := newFixture(t, llm.NewMock(), Config{DecideTimeout: time.Second})
	f.engine.InjectAction(action.ProposedAction{
		ActorID: f.leo.ID,
		Kind:    "move_to",
		Params:  schema.Bag{"location": schema.String(f.garden.ID.String())},
	})

	report, err := f.engine.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if len(report.Actions) != 3 {
		t.Fatalf("actions = %d, want 2 actor + 1 injected", len(report.Actions))
	}
	last := report.Actions[2]
	if last.Proposal.Kind != "move_to" {
		t.Fatalf("injected action should resolve last, got %q", last.Proposal.Kind)
	}
	if last.Proposal.Round != 1 {
		t.Fatalf("injected action round = %d, want 1", last.Proposal.Round)
	}
	if last.Outcome.Result != action.ResultSuccess {
		t.Fatalf("injected outcome = %+v", last.Outcome)
	}

	loc, err := f.store.LocationOf(f.leo.ID)
	if err != nil {
		t.Fatalf("LocationOf: %v", err)
	}
	if loc.ID != f.garden.ID {
		t.Fatalf("Leo should be in the garden")
	}
}

func TestEngine_ScheduledEventPublishesAtRoundStart(t *testing.T) {
	f := newFixture(t, llm.NewMock(), Config{DecideTimeout: time.Second})
	events := collectEvents(t, f.bus, "world.*")

	f.engine.ScheduleEvent(2, schema.NewEvent("world.bell_tolls", schema.Bag{
		"sound": schema.String("deep bronze"),
	}))

	if _, err := f.engine.StepOnce(context.Background()); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	select {
	case e := <-events:
		t.Fatalf("event published too early: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := f.engine.StepOnce(context.Background()); err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	ev := waitEvent(t, events)
	if ev.Type != "world.bell_tolls" || ev.Round != 2 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestEngine_RunStopsAtMaxRounds(t *testing.T) {
	f := newFixture(t, llm.NewMock(), Config{DecideTimeout: time.Second, MaxRounds: 3})

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop at MaxRounds")
	}
	if f.engine.Round() != 3 {
		t.Fatalf("round = %d, want 3", f.engine.Round())
	}
	if f.engine.Phase() != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", f.engine.Phase())
	}
}

func TestEngine_PauseHoldsRoundBoundary(t *testing.T) {
	f := newFixture(t, llm.NewMock(), Config{DecideTimeout: time.Second, RoundInterval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()

	waitFor(t, func() bool { return f.engine.Round() >= 1 })
	f.engine.Pause()
	waitFor(t, func() bool { return f.engine.Phase() == PhasePaused })

	frozen := f.engine.Round()
	time.Sleep(100 * time.Millisecond)
	if f.engine.Round() != frozen {
		t.Fatalf("rounds advanced while paused: %d -> %d", frozen, f.engine.Round())
	}

	f.engine.Resume()
	waitFor(t, func() bool { return f.engine.Round() > frozen })

	f.engine.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestEngine_SnapshotsEveryN(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, llm.NewMock(), Config{
		SimulationID:        "abbey",
		DecideTimeout:       time.Second,
		SnapshotEveryRounds: 2,
		SnapshotDir:         dir,
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := f.engine.StepOnce(ctx); err != nil {
			t.Fatalf("StepOnce: %v", err)
		}
	}

	for _, round := range []uint64{2, 4} {
		snap, err := snapshot.Read(snapshot.PathFor(dir, round))
		if err != nil {
			t.Fatalf("snapshot for round %d: %v", round, err)
		}
		if snap.Header.Round != round || snap.Header.SimulationID != "abbey" {
			t.Fatalf("snapshot header = %+v", snap.Header)
		}
	}
	if _, err := snapshot.Read(snapshot.PathFor(dir, 1)); err == nil {
		t.Fatal("unexpected snapshot for round 1")
	}

	select {
	case snap := <-f.engine.Snapshots():
		if snap.Header.Round != 2 {
			t.Fatalf("sink round = %d, want 2", snap.Header.Round)
		}
	default:
		t.Fatal("sink empty")
	}
}

func TestEngine_ResolutionSeesEarlierActionsSameRound(t *testing.T) {
	// Both actors decide to take the same candle from the same pre-round
	// state. Maya resolves first, the candle leaves the chapel, and Leo's
	// attempt finds it gone.
	client := nameClient{
		"Maya": {Kind: "take", Params: schema.Bag{"target": schema.String("Candle")}},
		"Leo":  {Kind: "take", Params: schema.Bag{"target": schema.String("Candle")}},
	}
	f := newFixture(t, client, Config{MaxInFlight: 2, DecideTimeout: time.Second})
	f.promote(t, f.maya)

	candle := schema.NewEntity("Candle")
	candle.ID = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000021")
	candle.State[schema.StateLocationID] = schema.String(f.chapel.ID.String())
	if err := f.store.Put(candle); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := f.store.ApplyChanges(f.chapel.ID, []world.Change{world.AddContained(candle.ID)}); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	report, err := f.engine.StepOnce(context.Background())
	if err != nil {
		t.Fatalf("StepOnce: %v", err)
	}
	if got := report.Actions[0].Outcome.Result; got != action.ResultSuccess {
		t.Fatalf("first take = %s, want success", got)
	}
	if got := report.Actions[1].Outcome.Result; got != action.ResultBlocked {
		t.Fatalf("second take = %s, want blocked", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
