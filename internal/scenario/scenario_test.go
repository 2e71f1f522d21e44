package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scrai/internal/schema"
	"scrai/internal/sim/world"
)

const visionScenario = `{
  "name": "The Vision",
  "description": "A pope alone in his chapel receives a terrifying vision.",
  "locations": [
    {
      "name": "Private Chapel",
      "description": "A small, dimly lit chapel.",
      "category": "chapel",
      "coordinates": {"x": 0, "y": 0},
      "connections": {"oak door": "Study"}
    },
    {
      "name": "Study",
      "description": "Shelves of worn theology books.",
      "connections": {"oak door": "Private Chapel"}
    }
  ],
  "actors": [
    {
      "name": "Leo",
      "description": "An elderly pope.",
      "priority": 5,
      "goals": [
        {"description": "Understand the meaning of the vision.", "priority": 10},
        {"description": "Pray for the Church.", "priority": 9}
      ],
      "emotions": {"awe": 0.8, "fear": 0.6},
      "memory": ["Celebrated Mass this morning."]
    },
    {
      "name": "Maya",
      "description": "A quiet attendant.",
      "has_agency": false
    }
  ],
  "placements": [
    {"actor": "Leo", "location": "Private Chapel"},
    {"actor": "Maya", "location": "Study"}
  ],
  "events": [
    {
      "round": 1,
      "type": "world.vision_begins",
      "data": {"intensity": 0.9},
      "target": "Leo"
    }
  ],
  "objectives": ["Leo discerns the vision's meaning."]
}`

func TestParse_ResolvesNamesToIDs(t *testing.T) {
	sc, err := Parse([]byte(visionScenario))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sc.Name != "The Vision" {
		t.Fatalf("name = %q", sc.Name)
	}
	if len(sc.Locations) != 2 || len(sc.Actors) != 2 {
		t.Fatalf("locations = %d, actors = %d", len(sc.Locations), len(sc.Actors))
	}

	chapel, study := sc.Locations[0], sc.Locations[1]
	if chapel.Connections["oak door"] != study.ID {
		t.Fatalf("chapel door should lead to study")
	}
	if study.Connections["oak door"] != chapel.ID {
		t.Fatalf("study door should lead back to chapel")
	}

	leo := sc.Actors[0]
	if !chapel.Contains(leo.ID) {
		t.Fatalf("Leo should be contained in chapel")
	}
	if id, ok := leo.LocationID(); !ok || id != chapel.ID {
		t.Fatalf("Leo's state location not set")
	}
	if len(leo.Cognitive.Goals) != 2 || leo.Cognitive.Goals[0].Status != schema.GoalPending {
		t.Fatalf("goals = %+v", leo.Cognitive.Goals)
	}
	if leo.Cognitive.Emotions["awe"] != 0.8 {
		t.Fatalf("emotions = %v", leo.Cognitive.Emotions)
	}

	maya := sc.Actors[1]
	if maya.HasAgency {
		t.Fatal("Maya should have agency disabled")
	}

	if len(sc.Events) != 1 {
		t.Fatalf("events = %d", len(sc.Events))
	}
	ev := sc.Events[0]
	if ev.Round != 1 || ev.Event.Type != "world.vision_begins" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Event.Target == nil || *ev.Event.Target != leo.ID {
		t.Fatalf("event target should be Leo")
	}
}

func TestParse_SchemaRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"missing name":       `{"locations":[{"name":"A"}],"actors":[],"placements":[]}`,
		"no locations":       `{"name":"x","locations":[],"actors":[],"placements":[]}`,
		"unknown field":      `{"name":"x","locations":[{"name":"A"}],"actors":[],"placements":[],"surprise":true}`,
		"emotion over range": `{"name":"x","locations":[{"name":"A"}],"actors":[{"name":"B","emotions":{"fear":1.5}}],"placements":[{"actor":"B","location":"A"}]}`,
		"placement shape":    `{"name":"x","locations":[{"name":"A"}],"actors":[],"placements":[{"actor":"B"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParse_DanglingReferences(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want string
	}{
		"unknown connection": {
			doc:  `{"name":"x","locations":[{"name":"A","connections":{"door":"Nowhere"}}],"actors":[],"placements":[]}`,
			want: "unknown location",
		},
		"unknown placement actor": {
			doc:  `{"name":"x","locations":[{"name":"A"}],"actors":[],"placements":[{"actor":"Ghost","location":"A"}]}`,
			want: "unknown actor",
		},
		"unplaced actor": {
			doc:  `{"name":"x","locations":[{"name":"A"}],"actors":[{"name":"B"}],"placements":[]}`,
			want: "no placement",
		},
		"duplicate names": {
			doc:  `{"name":"x","locations":[{"name":"A"},{"name":"A"}],"actors":[],"placements":[]}`,
			want: "duplicate",
		},
		"unknown event target": {
			doc:  `{"name":"x","locations":[{"name":"A"}],"actors":[],"placements":[],"events":[{"type":"t","target":"Ghost"}]}`,
			want: "unknown target",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestSeed_PopulatesStore(t *testing.T) {
	sc, err := Parse([]byte(visionScenario))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	store := world.NewStore()
	if err := sc.Seed(store); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if store.Len() != 4 {
		t.Fatalf("store len = %d, want 4", store.Len())
	}

	actors := store.Actors()
	if len(actors) != 1 {
		t.Fatalf("agency actors = %d, want 1 (Maya has none)", len(actors))
	}
	if actors[0].Name != "Leo" {
		t.Fatalf("actor = %q", actors[0].Name)
	}

	loc, err := store.LocationOf(actors[0].ID)
	if err != nil {
		t.Fatalf("LocationOf: %v", err)
	}
	if loc.Name != "Private Chapel" {
		t.Fatalf("location = %q", loc.Name)
	}
}

func TestLoadDefinition_LayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	doc := `
name: abbey
scenario: vision.json
rules:
  max_rounds: 20
  snapshot_every_rounds: 5
oracle:
  provider: mock
memory:
  driver: sqlite
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if def.Name != "abbey" || def.Scenario != "vision.json" {
		t.Fatalf("def = %+v", def)
	}
	if def.Rules.MaxRounds != 20 || def.Rules.SnapshotEveryRounds != 5 {
		t.Fatalf("rules = %+v", def.Rules)
	}
	if def.Rules.MaxInFlight != 4 || def.Rules.DecideTimeout != 30*time.Second {
		t.Fatalf("defaults not preserved: %+v", def.Rules)
	}
	if def.Oracle.Provider != "mock" {
		t.Fatalf("oracle = %+v", def.Oracle)
	}
	if def.Memory.Driver != "sqlite" {
		t.Fatalf("memory = %+v", def.Memory)
	}
}

func TestLoadDefinition_Rejections(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing name":     "scenario: s.json\n",
		"missing scenario": "name: x\n",
		"unknown field":    "name: x\nscenario: s.json\nsurprise: true\n",
		"bad memory":       "name: x\nscenario: s.json\nmemory:\n  driver: postgres\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadDefinition(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
