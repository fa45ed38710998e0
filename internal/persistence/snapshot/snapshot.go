package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SceneV1 is the durable world state: committed entities and blueprints.
// Mover and uploader are participant-scoped and never persisted; a world
// resumed from a snapshot starts with every entity free.
type SceneV1 struct {
	Header Header `json:"header"`

	TickRateHz int `json:"tick_rate_hz"`
	SendRateHz int `json:"send_rate_hz"`

	Entities   []EntityV1    `json:"entities"`
	Blueprints []BlueprintV1 `json:"blueprints"`

	Counters CountersV1 `json:"counters"`
}

type EntityV1 struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Blueprint string `json:"blueprint"`

	Position   [3]float64 `json:"position"`
	Quaternion [4]float64 `json:"quaternion"`
	Scale      [3]float64 `json:"scale"`

	Pinned bool `json:"pinned,omitempty"`

	// Script state, kept as raw JSON so gob stays concrete-typed.
	State json.RawMessage `json:"state,omitempty"`
}

type BlueprintV1 struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	Name   string `json:"name,omitempty"`
	Image  string `json:"image,omitempty"`
	Author string `json:"author,omitempty"`
	URL    string `json:"url,omitempty"`
	Desc   string `json:"desc,omitempty"`
	Model  string `json:"model,omitempty"`
	Script string `json:"script,omitempty"`

	Props json.RawMessage `json:"props,omitempty"`

	Preload  bool `json:"preload,omitempty"`
	Public   bool `json:"public,omitempty"`
	Locked   bool `json:"locked,omitempty"`
	Frozen   bool `json:"frozen,omitempty"`
	Unique   bool `json:"unique,omitempty"`
	Scene    bool `json:"scene,omitempty"`
	Disabled bool `json:"disabled,omitempty"`
}

type CountersV1 struct {
	NextParticipant uint64 `json:"next_participant"`
}

// WriteSnapshot writes a zstd-compressed snapshot: one JSON header line
// (greppable without decoding the body) followed by the gob body.
func WriteSnapshot(path string, snap SceneV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SceneV1, error) {
	var snap SceneV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is advisory; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
