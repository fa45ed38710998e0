package world

import (
	"encoding/json"
	"io"
	"log"
	"testing"

	"scenesync.dev/internal/persistence/snapshot"
	"scenesync.dev/internal/protocol"
	"scenesync.dev/internal/scene"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	return New(WorldConfig{
		ID:         "w_test",
		TickRateHz: 30,
		SendRateHz: 20,
	}, log.New(io.Discard, "", 0))
}

func join(t *testing.T, w *World, name string, builder bool) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 64)
	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{Name: name, Builder: builder, Out: out, Resp: resp})
	r := <-resp
	if r.Welcome.ParticipantID == "" {
		t.Fatalf("join %s: empty participant id", name)
	}
	return r.Welcome.ParticipantID, out
}

func send(t *testing.T, w *World, pid string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		t.Fatalf("decode base: %v", err)
	}
	w.handleMessage(1, MessageEnvelope{ParticipantID: pid, Type: base.Type, Raw: raw})
}

func drain(ch chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-ch:
			out = append(out, b)
		default:
			return out
		}
	}
}

func lastOfType(t *testing.T, frames [][]byte, msgType string) []byte {
	t.Helper()
	var found []byte
	for _, f := range frames {
		base, err := protocol.DecodeBase(f)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == msgType {
			found = f
		}
	}
	return found
}

func addEntity(t *testing.T, w *World, pid, id string) {
	t.Helper()
	send(t, w, pid, protocol.EntityAddedMsg{
		Type:   protocol.TypeEntityAdded,
		Entity: &scene.Entity{ID: id, Type: scene.TypeApp, Blueprint: "b1"},
	})
	if w.entities.Get(id) == nil {
		t.Fatalf("entity %s not added", id)
	}
}

func claim(pid string) scene.EntityPatch {
	return scene.EntityPatch{Mover: &pid}
}

func TestJoinWelcomeAndSnapshot(t *testing.T) {
	w := newTestWorld(t)
	_ = w.entities.Add(&scene.Entity{ID: "e1"})

	out := make(chan []byte, 4)
	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{Name: "alice", Builder: true, Out: out, Resp: resp})
	r := <-resp

	if r.Welcome.ParticipantID != "P1" {
		t.Fatalf("participant id = %q, want P1", r.Welcome.ParticipantID)
	}
	if !r.Welcome.Builder {
		t.Fatalf("builder capability not granted")
	}
	if len(r.Snapshot.Entities) != 1 || r.Snapshot.Entities[0].ID != "e1" {
		t.Fatalf("snapshot entities = %+v", r.Snapshot.Entities)
	}
}

func TestClaimArbitration(t *testing.T) {
	w := newTestWorld(t)
	a, outA := join(t, w, "a", true)
	b, outB := join(t, w, "b", true)
	addEntity(t, w, a, "e1")
	drain(outA)
	drain(outB)

	// A claims: granted, broadcast to B.
	send(t, w, a, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: claim(a)})
	if got := w.entities.Get("e1").Mover; got != a {
		t.Fatalf("mover = %q, want %q", got, a)
	}
	if lastOfType(t, drain(outB), protocol.TypeEntityModified) == nil {
		t.Fatalf("claim not broadcast to b")
	}

	// B claims: denied, mover stays A, B gets a corrective echo only.
	send(t, w, b, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: claim(b)})
	if got := w.entities.Get("e1").Mover; got != a {
		t.Fatalf("mover moved to %q on denied claim", got)
	}
	correction := lastOfType(t, drain(outB), protocol.TypeEntityModified)
	if correction == nil {
		t.Fatalf("no corrective echo sent to b")
	}
	var corr protocol.EntityModifiedMsg
	if err := json.Unmarshal(correction, &corr); err != nil {
		t.Fatalf("unmarshal correction: %v", err)
	}
	if corr.Mover == nil || *corr.Mover != a {
		t.Fatalf("correction mover = %v, want %q", corr.Mover, a)
	}
	if frames := drain(outA); len(frames) != 0 {
		t.Fatalf("denied claim leaked %d frames to holder", len(frames))
	}

	// A releases; B claims successfully.
	empty := ""
	send(t, w, a, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: scene.EntityPatch{Mover: &empty}})
	send(t, w, b, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: claim(b)})
	if got := w.entities.Get("e1").Mover; got != b {
		t.Fatalf("mover = %q after release, want %q", got, b)
	}
}

func TestTransformWriteGate(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a", true)
	b, _ := join(t, w, "b", true)
	addEntity(t, w, a, "e1")

	send(t, w, a, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: claim(a)})

	// B's transform write while A holds is dropped.
	pos := scene.Vec3{9, 9, 9}
	send(t, w, b, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: scene.EntityPatch{Position: &pos}})
	if got := w.entities.Get("e1").Position; got == pos {
		t.Fatalf("non-mover transform write accepted")
	}

	// The mover's write lands.
	send(t, w, a, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: scene.EntityPatch{Position: &pos}})
	if got := w.entities.Get("e1").Position; got != pos {
		t.Fatalf("mover transform write dropped: %v", got)
	}

	// After release the entity is free: any builder may write (undo replay).
	empty := ""
	send(t, w, a, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: scene.EntityPatch{Mover: &empty}})
	pos2 := scene.Vec3{1, 2, 3}
	send(t, w, b, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: scene.EntityPatch{Position: &pos2}})
	if got := w.entities.Get("e1").Position; got != pos2 {
		t.Fatalf("free-entity write dropped: %v", got)
	}
}

func TestDisconnectForceReleases(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a", true)
	_, outB := join(t, w, "b", true)
	addEntity(t, w, a, "e1")
	send(t, w, a, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: claim(a)})
	drain(outB)

	w.handleLeave(2, a)

	e := w.entities.Get("e1")
	if e.Mover != "" {
		t.Fatalf("mover not cleared on disconnect: %q", e.Mover)
	}
	rel := lastOfType(t, drain(outB), protocol.TypeEntityModified)
	if rel == nil {
		t.Fatalf("release not broadcast")
	}
	var msg protocol.EntityModifiedMsg
	if err := json.Unmarshal(rel, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Mover == nil || *msg.Mover != "" {
		t.Fatalf("broadcast release mover = %v", msg.Mover)
	}
}

func TestDisconnectDestroysProvisionalUploads(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a", true)
	_, outB := join(t, w, "b", true)

	send(t, w, a, protocol.EntityAddedMsg{
		Type:   protocol.TypeEntityAdded,
		Entity: &scene.Entity{ID: "e1", Type: scene.TypeApp, Uploader: a},
	})
	if w.entities.Get("e1") == nil {
		t.Fatalf("provisional entity not added")
	}
	drain(outB)

	w.handleLeave(2, a)
	if w.entities.Get("e1") != nil {
		t.Fatalf("provisional entity survived uploader disconnect")
	}
	if lastOfType(t, drain(outB), protocol.TypeEntityRemoved) == nil {
		t.Fatalf("removal not broadcast")
	}
}

func TestStaleClaimByDisconnectedHolder(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a", true)
	b, _ := join(t, w, "b", true)
	addEntity(t, w, a, "e1")

	// Directly set a mover that is no longer connected.
	w.entities.Get("e1").Mover = "P99"

	send(t, w, b, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: claim(b)})
	if got := w.entities.Get("e1").Mover; got != b {
		t.Fatalf("claim over disconnected holder denied, mover=%q", got)
	}
}

func TestPinnedRemoveDenied(t *testing.T) {
	w := newTestWorld(t)
	a, outA := join(t, w, "a", true)
	send(t, w, a, protocol.EntityAddedMsg{
		Type:   protocol.TypeEntityAdded,
		Entity: &scene.Entity{ID: "e1", Type: scene.TypeApp, Pinned: true},
	})
	drain(outA)

	send(t, w, a, protocol.EntityRemovedMsg{Type: protocol.TypeEntityRemoved, ID: "e1"})
	if w.entities.Get("e1") == nil {
		t.Fatalf("pinned entity removed")
	}
	errFrame := lastOfType(t, drain(outA), protocol.TypeError)
	if errFrame == nil {
		t.Fatalf("no error sent for pinned removal")
	}
	var em protocol.ErrorMsg
	if err := json.Unmarshal(errFrame, &em); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if em.Code != protocol.ErrNoPermission {
		t.Fatalf("error code = %s, want %s", em.Code, protocol.ErrNoPermission)
	}
}

func TestNonBuilderDenied(t *testing.T) {
	w := newTestWorld(t)
	v, outV := join(t, w, "viewer", false)

	send(t, w, v, protocol.EntityAddedMsg{
		Type:   protocol.TypeEntityAdded,
		Entity: &scene.Entity{ID: "e1", Type: scene.TypeApp},
	})
	if w.entities.Get("e1") != nil {
		t.Fatalf("non-builder mutated the scene")
	}
	errFrame := lastOfType(t, drain(outV), protocol.TypeError)
	if errFrame == nil {
		t.Fatalf("no permission error sent")
	}
	var em protocol.ErrorMsg
	_ = json.Unmarshal(errFrame, &em)
	if em.Code != protocol.ErrNoPermission {
		t.Fatalf("error code = %s", em.Code)
	}
}

func TestStaleBlueprintModifiedDropped(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a", true)
	_, outB := join(t, w, "b", true)

	send(t, w, a, protocol.BlueprintAddedMsg{
		Type:      protocol.TypeBlueprintAdded,
		Blueprint: &scene.Blueprint{ID: "b1", Version: 3, Name: "crate"},
	})
	drain(outB)

	name := "X"
	send(t, w, a, protocol.BlueprintModifiedMsg{
		Type:           protocol.TypeBlueprintModified,
		BlueprintPatch: scene.BlueprintPatch{ID: "b1", Version: 2, Name: &name},
	})
	if got := w.blueprints.Get("b1").Name; got != "crate" {
		t.Fatalf("stale modify applied: name=%q", got)
	}
	if frames := drain(outB); len(frames) != 0 {
		t.Fatalf("stale modify broadcast %d frames", len(frames))
	}
}

func TestSnapshotExportSkipsProvisionalAndMover(t *testing.T) {
	w := newTestWorld(t)
	a, _ := join(t, w, "a", true)
	addEntity(t, w, a, "e1")
	send(t, w, a, protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: "e1", EntityPatch: claim(a)})
	send(t, w, a, protocol.EntityAddedMsg{
		Type:   protocol.TypeEntityAdded,
		Entity: &scene.Entity{ID: "e2", Uploader: a},
	})

	sink := make(chan snapshot.SceneV1, 1)
	w.SetSnapshotSink(sink)
	w.exportSnapshot()
	snap := <-sink

	if len(snap.Entities) != 1 || snap.Entities[0].ID != "e1" {
		t.Fatalf("snapshot entities = %+v", snap.Entities)
	}
}

func TestMetricsPublishedByStep(t *testing.T) {
	w := newTestWorld(t)
	if m := w.Metrics(); m.Tick != 0 || m.Clients != 0 {
		t.Fatalf("metrics before first step = %+v", m)
	}

	out := make(chan []byte, 64)
	resp := make(chan JoinResponse, 1)
	w.step([]JoinRequest{{Name: "a", Builder: true, Out: out, Resp: resp}}, nil, nil)
	r := <-resp

	m := w.Metrics()
	if m.Tick != 1 || m.Clients != 1 {
		t.Fatalf("metrics after join step = %+v", m)
	}

	pid := r.Welcome.ParticipantID
	w.step(nil, []string{pid}, nil)
	if m := w.Metrics(); m.Tick != 2 || m.Clients != 0 {
		t.Fatalf("metrics after leave step = %+v", m)
	}
}

func TestImportSceneResumesTickPastSnapshot(t *testing.T) {
	w := newTestWorld(t)
	err := w.ImportScene(snapshot.SceneV1{
		Header: snapshot.Header{Version: 1, WorldID: "w_test", Tick: 100000},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := w.CurrentTick(); got != 100001 {
		t.Fatalf("tick after import = %d, want 100001", got)
	}

	// Exports after a resume must sort past the loaded file, or boot
	// picks the stale snapshot forever.
	sink := make(chan snapshot.SceneV1, 1)
	w.SetSnapshotSink(sink)
	w.step(nil, nil, nil)
	w.exportSnapshot()
	out := <-sink
	if out.Header.Tick <= 100000 {
		t.Fatalf("post-resume export tick %d not past resumed tick", out.Header.Tick)
	}
}
