package schema

import (
	"fmt"
	"testing"
)

func TestCognitiveState_MemoryCapEvictsOldest(t *testing.T) {
	c := CognitiveState{MemoryCap: 3}
	for i := 0; i < 5; i++ {
		c.AddMemory(fmt.Sprintf("entry %d", i))
	}
	if len(c.Memory) != 3 {
		t.Fatalf("memory len = %d, want 3", len(c.Memory))
	}
	if c.Memory[0] != "entry 2" || c.Memory[2] != "entry 4" {
		t.Fatalf("memory = %v", c.Memory)
	}
}

func TestCognitiveState_EmotionClamped(t *testing.T) {
	c := CognitiveState{Emotions: map[string]float64{"fear": 0.9}}
	c.AdjustEmotion("fear", 0.5)
	if c.Emotions["fear"] != 1.0 {
		t.Fatalf("fear = %v, want 1.0", c.Emotions["fear"])
	}
	c.AdjustEmotion("fear", -2)
	if c.Emotions["fear"] != 0 {
		t.Fatalf("fear = %v, want 0", c.Emotions["fear"])
	}
	c.SetEmotion("awe", 7)
	if c.Emotions["awe"] != 1.0 {
		t.Fatalf("awe = %v, want 1.0", c.Emotions["awe"])
	}
}

func TestActor_CloneIsIndependent(t *testing.T) {
	a := NewActor("Marcus")
	a.State["status"] = String("patrolling")
	a.Cognitive.Goals = []Goal{{Description: "patrol the gate", Status: GoalActive, Priority: 10}}
	a.Cognitive.SetEmotion("vigilance", 0.9)

	clone := a.Clone()
	clone.State["status"] = String("sleeping")
	clone.Cognitive.SetEmotion("vigilance", 0.1)
	clone.Cognitive.Goals[0].Status = GoalCompleted

	if s, _ := a.State.GetString("status"); s != "patrolling" {
		t.Fatalf("original state mutated: %q", s)
	}
	if a.Cognitive.Emotions["vigilance"] != 0.9 {
		t.Fatalf("original emotions mutated: %v", a.Cognitive.Emotions["vigilance"])
	}
	if a.Cognitive.Goals[0].Status != GoalActive {
		t.Fatalf("original goals mutated: %v", a.Cognitive.Goals[0].Status)
	}
}

func TestLocation_ContainedSet(t *testing.T) {
	l := NewLocation("chapel")
	a := NewActor("Leo")
	l.AddContained(a.ID)
	l.AddContained(a.ID) // idempotent
	if len(l.Contained) != 1 {
		t.Fatalf("contained len = %d", len(l.Contained))
	}
	if !l.Contains(a.ID) {
		t.Fatal("Contains should report true")
	}
	l.RemoveContained(a.ID)
	if l.Contains(a.ID) {
		t.Fatal("Contains should report false after removal")
	}
}

func TestActor_LocationID(t *testing.T) {
	a := NewActor("Leo")
	if _, ok := a.LocationID(); ok {
		t.Fatal("unplaced actor should have no location")
	}
	l := NewLocation("chapel")
	a.State[StateLocationID] = String(l.ID.String())
	got, ok := a.LocationID()
	if !ok || got != l.ID {
		t.Fatalf("LocationID = %v ok=%v", got, ok)
	}
}
