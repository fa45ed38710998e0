package scene

import (
	"io"
	"log"
	"testing"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func strp(s string) *string { return &s }

func TestBlueprintVersionGate(t *testing.T) {
	r := NewBlueprints(testLogger())
	if err := r.Add(&Blueprint{ID: "b1", Version: 3, Name: "crate"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Stale write at or below the known version has zero effect.
	if r.Modify(&BlueprintPatch{ID: "b1", Version: 2, Name: strp("X")}) {
		t.Fatalf("stale modify accepted")
	}
	if r.Modify(&BlueprintPatch{ID: "b1", Version: 3, Name: strp("X")}) {
		t.Fatalf("same-version modify accepted")
	}
	if got := r.Get("b1").Name; got != "crate" {
		t.Fatalf("name changed by stale modify: %q", got)
	}

	if !r.Modify(&BlueprintPatch{ID: "b1", Version: 4, Name: strp("barrel")}) {
		t.Fatalf("newer modify rejected")
	}
	b := r.Get("b1")
	if b.Version != 4 || b.Name != "barrel" {
		t.Fatalf("modify not applied: version=%d name=%q", b.Version, b.Name)
	}
}

func TestBlueprintVersionMonotonic(t *testing.T) {
	r := NewBlueprints(testLogger())
	if err := r.Add(&Blueprint{ID: "b1", Version: 0}); err != nil {
		t.Fatalf("add: %v", err)
	}

	versions := []int{2, 1, 5, 3, 5, 6}
	last := 0
	for _, v := range versions {
		r.Modify(&BlueprintPatch{ID: "b1", Version: v})
		cur := r.Get("b1").Version
		if cur < last {
			t.Fatalf("version went backwards: %d -> %d", last, cur)
		}
		last = cur
	}
	if last != 6 {
		t.Fatalf("final version = %d, want 6", last)
	}
}

func TestBlueprintCloneDeepCopiesProps(t *testing.T) {
	b := &Blueprint{ID: "b1", Unique: true, Props: map[string]any{"color": "red"}}
	c := b.Clone()
	c.Props["color"] = "blue"
	if b.Props["color"] != "red" {
		t.Fatalf("clone shares props map")
	}
}

func TestSceneSingleton(t *testing.T) {
	r := NewBlueprints(testLogger())
	_ = r.Add(&Blueprint{ID: "b1"})
	if r.Scene() != nil {
		t.Fatalf("scene reported with no scene blueprint")
	}
	_ = r.Add(&Blueprint{ID: "world", Scene: true})
	if got := r.Scene(); got == nil || got.ID != "world" {
		t.Fatalf("scene lookup = %v", got)
	}
}
