package world

import (
	"encoding/json"

	"scenesync.dev/internal/persistence/snapshot"
	"scenesync.dev/internal/scene"
)

// exportSnapshot captures committed state only: entities still uploading
// are provisional and skipped, mover/uploader fields never persist. The
// actual disk write happens on the sink's goroutine.
func (w *World) exportSnapshot() {
	if w.snapshotSink == nil {
		return
	}
	tick := w.tick.Load()

	snap := snapshot.SceneV1{
		Header: snapshot.Header{
			Version: 1,
			WorldID: w.cfg.ID,
			Tick:    tick,
		},
		TickRateHz: w.cfg.TickRateHz,
		SendRateHz: w.cfg.SendRateHz,
		Counters: snapshot.CountersV1{
			NextParticipant: w.nextParticipantNum.Load(),
		},
	}

	for _, e := range w.entities.All() {
		if e.Uploader != "" {
			continue
		}
		ev := snapshot.EntityV1{
			ID:         e.ID,
			Type:       e.Type,
			Blueprint:  e.Blueprint,
			Position:   e.Position,
			Quaternion: e.Quaternion,
			Scale:      e.Scale,
			Pinned:     e.Pinned,
		}
		if len(e.State) > 0 {
			if b, err := json.Marshal(e.State); err == nil {
				ev.State = b
			}
		}
		snap.Entities = append(snap.Entities, ev)
	}

	for _, b := range w.blueprints.All() {
		bv := snapshot.BlueprintV1{
			ID:       b.ID,
			Version:  b.Version,
			Name:     b.Name,
			Image:    b.Image,
			Author:   b.Author,
			URL:      b.URL,
			Desc:     b.Desc,
			Model:    b.Model,
			Script:   b.Script,
			Preload:  b.Preload,
			Public:   b.Public,
			Locked:   b.Locked,
			Frozen:   b.Frozen,
			Unique:   b.Unique,
			Scene:    b.Scene,
			Disabled: b.Disabled,
		}
		if len(b.Props) > 0 {
			if raw, err := json.Marshal(b.Props); err == nil {
				bv.Props = raw
			}
		}
		snap.Blueprints = append(snap.Blueprints, bv)
	}

	select {
	case w.snapshotSink <- snap:
	default:
		w.log.Printf("snapshot sink busy, skipping export at tick %d", tick)
	}
}

// ImportScene loads a snapshot into an empty world. Must be called before
// Run; every restored entity starts free.
func (w *World) ImportScene(snap snapshot.SceneV1) error {
	// Resume past the snapshot's tick so post-restart exports sort after
	// the file we loaded.
	w.tick.Store(snap.Header.Tick + 1)
	w.nextParticipantNum.Store(snap.Counters.NextParticipant)

	for _, bv := range snap.Blueprints {
		b := &scene.Blueprint{
			ID:       bv.ID,
			Version:  bv.Version,
			Name:     bv.Name,
			Image:    bv.Image,
			Author:   bv.Author,
			URL:      bv.URL,
			Desc:     bv.Desc,
			Model:    bv.Model,
			Script:   bv.Script,
			Preload:  bv.Preload,
			Public:   bv.Public,
			Locked:   bv.Locked,
			Frozen:   bv.Frozen,
			Unique:   bv.Unique,
			Scene:    bv.Scene,
			Disabled: bv.Disabled,
		}
		if len(bv.Props) > 0 {
			if err := json.Unmarshal(bv.Props, &b.Props); err != nil {
				return err
			}
		}
		if err := w.blueprints.Add(b); err != nil {
			return err
		}
	}

	for _, ev := range snap.Entities {
		e := &scene.Entity{
			ID:         ev.ID,
			Type:       ev.Type,
			Blueprint:  ev.Blueprint,
			Position:   ev.Position,
			Quaternion: ev.Quaternion,
			Scale:      ev.Scale,
			Pinned:     ev.Pinned,
		}
		if len(ev.State) > 0 {
			if err := json.Unmarshal(ev.State, &e.State); err != nil {
				return err
			}
		}
		if err := w.entities.Add(e); err != nil {
			return err
		}
	}
	return nil
}
