package scene

import (
	"testing"
)

func TestAddDefaultsAndDuplicate(t *testing.T) {
	r := NewEntities()

	e := &Entity{ID: "e1", Type: TypeApp, Blueprint: "b1"}
	if err := r.Add(e); err != nil {
		t.Fatalf("add: %v", err)
	}
	if e.Scale != (Vec3{1, 1, 1}) {
		t.Fatalf("zero scale not defaulted: %v", e.Scale)
	}
	if e.Quaternion != IdentityQuat() {
		t.Fatalf("zero quaternion not defaulted: %v", e.Quaternion)
	}

	if err := r.Add(&Entity{ID: "e1"}); err == nil {
		t.Fatalf("duplicate add did not fail")
	}
}

func TestClaimSingleAuthority(t *testing.T) {
	r := NewEntities()
	if err := r.Add(&Entity{ID: "e1"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !r.Claim("e1", "P1") {
		t.Fatalf("first claim denied")
	}
	if r.Claim("e1", "P2") {
		t.Fatalf("second claim granted while P1 holds")
	}
	if got := r.Get("e1").Mover; got != "P1" {
		t.Fatalf("mover = %q, want P1", got)
	}

	// Re-claim by the holder is a no-op success.
	if !r.Claim("e1", "P1") {
		t.Fatalf("holder re-claim denied")
	}

	if _, ok := r.Release("e1"); !ok {
		t.Fatalf("release failed")
	}
	if !r.Claim("e1", "P2") {
		t.Fatalf("claim after release denied")
	}
}

func TestReleaseCommitsTransformAndWipesState(t *testing.T) {
	r := NewEntities()
	e := &Entity{ID: "e1", State: map[string]any{"hp": 3}}
	if err := r.Add(e); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Claim("e1", "P1")

	pos := Vec3{4, 5, 6}
	if _, err := r.Apply("e1", &EntityPatch{Position: &pos}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rel, ok := r.Release("e1")
	if !ok {
		t.Fatalf("release failed")
	}
	if rel.Mover != "" {
		t.Fatalf("mover not cleared: %q", rel.Mover)
	}
	if rel.Position != pos {
		t.Fatalf("transform not committed: %v", rel.Position)
	}
	if len(rel.State) != 0 {
		t.Fatalf("state survived release: %v", rel.State)
	}

	// Releasing a free entity is idempotent.
	if _, ok := r.Release("e1"); ok {
		t.Fatalf("second release reported a change")
	}
}

func TestReleaseAllHeldBy(t *testing.T) {
	r := NewEntities()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Add(&Entity{ID: id}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	r.Claim("a", "P1")
	r.Claim("b", "P1")
	r.Claim("c", "P2")

	released := r.ReleaseAllHeldBy("P1")
	if len(released) != 2 {
		t.Fatalf("released %d entities, want 2", len(released))
	}
	if got := r.Get("c").Mover; got != "P2" {
		t.Fatalf("unrelated claim disturbed: mover=%q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	e := &Entity{ID: "e1", State: map[string]any{
		"nested": map[string]any{"k": 1},
		"list":   []any{"a", map[string]any{"k": 1}},
	}}
	c := e.Clone()
	c.State["nested"].(map[string]any)["k"] = 2
	if e.State["nested"].(map[string]any)["k"] != 1 {
		t.Fatalf("clone shares nested state")
	}
	c.State["list"].([]any)[0] = "b"
	c.State["list"].([]any)[1].(map[string]any)["k"] = 2
	list := e.State["list"].([]any)
	if list[0] != "a" || list[1].(map[string]any)["k"] != 1 {
		t.Fatalf("clone shares array-valued state: %+v", list)
	}
}

func TestSubscribeEvents(t *testing.T) {
	r := NewEntities()
	var kinds []EventKind
	r.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	if err := r.Add(&Entity{ID: "e1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	pos := Vec3{1, 0, 0}
	if _, err := r.Apply("e1", &EntityPatch{Position: &pos}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	r.Remove("e1")

	want := []EventKind{EventAdded, EventModified, EventRemoved}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}
