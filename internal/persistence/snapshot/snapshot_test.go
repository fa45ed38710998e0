package snapshot

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "42.snap.zst")

	in := SceneV1{
		Header:     Header{Version: 1, WorldID: "w_test", Tick: 42},
		TickRateHz: 30,
		SendRateHz: 20,
		Entities: []EntityV1{
			{
				ID:         "e1",
				Type:       "app",
				Blueprint:  "b1",
				Position:   [3]float64{1, 2, 3},
				Quaternion: [4]float64{0, 0, 0, 1},
				Scale:      [3]float64{1, 1, 1},
				Pinned:     true,
				State:      json.RawMessage(`{"hp":3}`),
			},
		},
		Blueprints: []BlueprintV1{
			{
				ID: "b1", Version: 7, Name: "crate", Model: "crate.glb",
				Unique: true,
				Props:  json.RawMessage(`{"color":"red"}`),
			},
		},
		Counters: CountersV1{NextParticipant: 9},
	}

	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestReadMissingSnapshot(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("missing snapshot read succeeded")
	}
}
