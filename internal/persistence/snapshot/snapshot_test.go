package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"scrai/internal/schema"
	"scrai/internal/sim/world"
)

func buildStore(t *testing.T) *world.Store {
	t.Helper()
	store := world.NewStore()

	chapel := schema.NewLocation("Chapel")
	chapel.ID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	leo := schema.NewActor("Leo")
	leo.ID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")
	leo.State[schema.StateLocationID] = schema.String(chapel.ID.String())
	leo.Cognitive.SetEmotion("fear", 0.7)
	leo.Cognitive.AddMemory("heard a noise in the crypt")
	chapel.AddContained(leo.ID)

	for _, v := range []any{chapel, leo} {
		if err := store.Put(v); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return store
}

func TestSnapshot_CaptureRestoreRoundTrip(t *testing.T) {
	store := buildStore(t)
	wantDigest := store.Digest()

	snap, err := Capture("abbey", 7, store)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Header.Round != 7 || snap.Header.SimulationID != "abbey" {
		t.Fatalf("header = %+v", snap.Header)
	}
	if snap.Header.Digest != wantDigest {
		t.Fatalf("header digest = %s, want %s", snap.Header.Digest, wantDigest)
	}

	path := PathFor(t.TempDir(), 7)
	if err := Write(path, snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	restored := world.NewStore()
	if err := Restore(loaded, restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Digest() != wantDigest {
		t.Fatalf("restored digest = %s, want %s", restored.Digest(), wantDigest)
	}

	a, err := restored.GetActor(uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"))
	if err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	if a.Cognitive.Emotions["fear"] != 0.7 {
		t.Fatalf("fear = %v, want 0.7", a.Cognitive.Emotions["fear"])
	}
	if len(a.Cognitive.Memory) != 1 || a.Cognitive.Memory[0] != "heard a noise in the crypt" {
		t.Fatalf("memory = %v", a.Cognitive.Memory)
	}
}

func TestSnapshot_DigestMismatchRejected(t *testing.T) {
	store := buildStore(t)
	snap, err := Capture("abbey", 1, store)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	snap.Header.Digest = "bogus"

	restored := world.NewStore()
	err = Restore(snap, restored)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("err = %v, want digest mismatch", err)
	}
}

func TestSnapshot_WriteSurfacesDeviceErrors(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	snap, err := Capture("abbey", 1, buildStore(t))
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	// The write is buffered, so the device error only appears on flush.
	if err := Write("/dev/full", snap); err == nil {
		t.Fatal("writing to a full device reported success")
	}
}

func TestSnapshot_ReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatal("expected error reading missing snapshot")
	}
}

func TestPathFor(t *testing.T) {
	got := PathFor("/runs/abbey", 42)
	want := filepath.Join("/runs/abbey", "round-00000042.snap.zst")
	if got != want {
		t.Fatalf("PathFor = %s, want %s", got, want)
	}
}
