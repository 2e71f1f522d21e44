package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"scrai/internal/llm"
	"scrai/internal/memory"
	"scrai/internal/schema"
	"scrai/internal/sim/action"
)

var testKinds = []string{"wait", "speak", "move_to"}

func testActor() *schema.Actor {
	a := schema.NewActor("Leo")
	a.Description = "A nervous novice monk."
	a.Cognitive.Goals = []schema.Goal{
		{Description: "find the relic", Status: schema.GoalActive},
		{Description: "already done", Status: schema.GoalCompleted},
	}
	a.Cognitive.SetEmotion("fear", 0.7)
	return a
}

func TestCycle_ProposesOracleDecision(t *testing.T) {
	mock := llm.NewMock().WithDecision(llm.Decision{
		Kind:   "speak",
		Params: schema.Bag{"message": schema.String("hello")},
	})
	c := New(mock, testKinds)
	a := testActor()

	pa := c.Run(context.Background(), a, "You are in the chapel.", 3)
	if pa.Kind != "speak" {
		t.Fatalf("kind = %q, want speak", pa.Kind)
	}
	if pa.ActorID != a.ID || pa.Round != 3 {
		t.Fatalf("proposal misattributed: %+v", pa)
	}

	if mock.CallCount() != 1 {
		t.Fatalf("oracle calls = %d, want 1", mock.CallCount())
	}
	req := mock.Calls[0]
	if req.ActorName != "Leo" || req.Perception != "You are in the chapel." {
		t.Fatalf("request missing context: %+v", req)
	}
	if len(req.Goals) != 1 || req.Goals[0] != "find the relic" {
		t.Fatalf("completed goals should be filtered: %v", req.Goals)
	}
}

func TestCycle_PerceptionRidesRequestNotMemory(t *testing.T) {
	mock := llm.NewMock()
	c := New(mock, testKinds)
	a := testActor()
	a.Cognitive.AddMemory("Heard a sermon yesterday.")

	c.Run(context.Background(), a, "A bell tolls.", 1)
	req := mock.Calls[0]
	if req.Perception != "A bell tolls." {
		t.Fatalf("perception = %q", req.Perception)
	}
	for _, m := range req.Memory {
		if m == "A bell tolls." {
			t.Fatalf("perception duplicated into memory: %v", req.Memory)
		}
	}
	if len(req.Memory) != 1 || req.Memory[0] != "Heard a sermon yesterday." {
		t.Fatalf("memory = %v", req.Memory)
	}
}

func TestCycle_OracleFailureFallsBackToWait(t *testing.T) {
	mock := llm.NewMock().WithError(errors.New("boom"))
	c := New(mock, testKinds)

	pa := c.Run(context.Background(), testActor(), "perception", 1)
	if pa.Kind != action.KindWait {
		t.Fatalf("kind = %q, want wait", pa.Kind)
	}
}

func TestCycle_TimeoutFallsBackToWait(t *testing.T) {
	mock := llm.NewMock().WithDelay(time.Second)
	c := New(mock, testKinds)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	pa := c.Run(ctx, testActor(), "perception", 1)
	if pa.Kind != action.KindWait {
		t.Fatalf("kind = %q, want wait", pa.Kind)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cycle did not respect context deadline")
	}
}

func TestCycle_UnavailableOracleWaits(t *testing.T) {
	mock := llm.NewMock().WithAvailable(false)
	c := New(mock, testKinds)

	pa := c.Run(context.Background(), testActor(), "perception", 1)
	if pa.Kind != action.KindWait {
		t.Fatalf("kind = %q, want wait", pa.Kind)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("oracle should not be called when unavailable")
	}
}

func TestCycle_NoAgencyWaitsWithoutOracle(t *testing.T) {
	mock := llm.NewMock()
	c := New(mock, testKinds)
	a := testActor()
	a.HasAgency = false

	pa := c.Run(context.Background(), a, "perception", 1)
	if pa.Kind != action.KindWait {
		t.Fatalf("kind = %q, want wait", pa.Kind)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("oracle consulted for actor without agency")
	}
}

func TestCycle_RecordsToLongTermMemory(t *testing.T) {
	rec := memory.NewInMemory()
	c := New(llm.NewMock(), testKinds, WithRecorder(rec))
	a := testActor()
	ctx := context.Background()

	c.Run(ctx, a, "You are in the chapel.", 1)
	c.RecordOutcome(ctx, a.ID, 1, action.Outcome{Result: action.ResultSuccess, Message: "You wait."})

	got, err := rec.Recall(ctx, memory.Query{ActorID: a.ID})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Kind != memory.KindPerception || got[1].Kind != memory.KindOutcome {
		t.Fatalf("kinds = %s, %s", got[0].Kind, got[1].Kind)
	}
}

func TestCycle_PerActorProviderOverride(t *testing.T) {
	shared := llm.NewMock().WithDecision(llm.Decision{Kind: "wait"})
	dedicated := llm.NewMock().WithDecision(llm.Decision{Kind: "speak", Params: schema.Bag{"message": schema.String("hi")}})

	c := New(shared, testKinds)
	c.makeClient = func(cfg llm.Config) (llm.Client, error) {
		if cfg.Provider != "lmstudio" {
			t.Errorf("provider = %q, want lmstudio", cfg.Provider)
		}
		return dedicated, nil
	}

	a := testActor()
	a.Cognitive.Provider = schema.ProviderSettings{Provider: "lmstudio", Model: "local-model"}

	pa := c.Run(context.Background(), a, "perception", 1)
	if pa.Kind != "speak" {
		t.Fatalf("kind = %q, want speak from dedicated client", pa.Kind)
	}
	if shared.CallCount() != 0 {
		t.Fatalf("shared client should not have been used")
	}

	c.Run(context.Background(), a, "perception", 2)
	if dedicated.CallCount() != 2 {
		t.Fatalf("dedicated client not cached: calls = %d", dedicated.CallCount())
	}
}
