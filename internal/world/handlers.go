package world

import (
	"encoding/json"
	"errors"
	"fmt"

	"scenesync.dev/internal/protocol"
	"scenesync.dev/internal/scene"
)

func (w *World) handleJoin(req JoinRequest) {
	id := fmt.Sprintf("P%d", w.nextParticipantNum.Add(1))
	w.clients[id] = &clientState{
		ID:      id,
		Name:    req.Name,
		Builder: req.Builder,
		Out:     req.Out,
	}

	resp := JoinResponse{
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			ParticipantID:   id,
			Builder:         req.Builder,
			TickRateHz:      w.cfg.TickRateHz,
			SendRateHz:      w.cfg.SendRateHz,
			MaxUploadMB:     w.cfg.MaxUploadMB,
			AssetsURL:       w.cfg.AssetsURL,
		},
		Snapshot: protocol.SnapshotMsg{
			Type:       protocol.TypeSnapshot,
			Entities:   w.entities.All(),
			Blueprints: w.blueprints.All(),
		},
	}
	req.Resp <- resp
	w.log.Printf("join participant=%s name=%q builder=%v", id, req.Name, req.Builder)
}

// handleLeave forcibly releases anything the participant held so no entity
// stays claimed by a ghost, then tears down its provisional uploads.
func (w *World) handleLeave(tick uint64, id string) {
	if _, ok := w.clients[id]; !ok {
		return
	}
	delete(w.clients, id)

	for _, e := range w.entities.ReleaseAllHeldBy(id) {
		empty := ""
		w.broadcast("", protocol.EntityModifiedMsg{
			Type: protocol.TypeEntityModified,
			ID:   e.ID,
			EntityPatch: scene.EntityPatch{
				Mover:        &empty,
				Position:     &e.Position,
				Quaternion:   &e.Quaternion,
				Scale:        &e.Scale,
				StateCleared: true,
			},
		})
		w.logChange(ChangeEntry{Tick: tick, Origin: id, Action: "disconnect", Entity: e.ID})
	}

	// Entities still uploading from the leaver will never complete.
	for _, e := range w.entities.UploadingBy(id) {
		w.entities.Remove(e.ID)
		w.broadcast("", protocol.EntityRemovedMsg{Type: protocol.TypeEntityRemoved, ID: e.ID})
		w.logChange(ChangeEntry{Tick: tick, Origin: id, Action: "disconnect", Entity: e.ID, Denied: protocol.ErrUploadFailed})
	}

	w.log.Printf("leave participant=%s", id)
}

func (w *World) handleMessage(tick uint64, env MessageEnvelope) {
	c := w.clients[env.ParticipantID]
	if c == nil {
		return
	}
	if !c.Builder {
		// Capability check happens before any state mutation.
		w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: env.Type, Denied: protocol.ErrNoPermission})
		w.sendTo(c, protocol.NewError(protocol.ErrNoPermission, "builder capability required"))
		return
	}

	switch env.Type {
	case protocol.TypeEntityAdded:
		w.handleEntityAdded(tick, c, env.Raw)
	case protocol.TypeEntityModified:
		w.handleEntityModified(tick, c, env.Raw)
	case protocol.TypeEntityRemoved:
		w.handleEntityRemoved(tick, c, env.Raw)
	case protocol.TypeBlueprintAdded:
		w.handleBlueprintAdded(tick, c, env.Raw)
	case protocol.TypeBlueprintModified:
		w.handleBlueprintModified(tick, c, env.Raw)
	default:
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "unknown message type"))
	}
}

func (w *World) handleEntityAdded(tick uint64, c *clientState, raw []byte) {
	var msg protocol.EntityAddedMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Entity == nil {
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "malformed entityAdded"))
		return
	}
	e := msg.Entity
	// Clients may only open provisional/mover state in their own name.
	if e.Uploader != "" && e.Uploader != c.ID {
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "uploader must be the sender"))
		return
	}
	if e.Mover != "" && e.Mover != c.ID {
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "mover must be the sender"))
		return
	}
	if err := w.entities.Add(e); err != nil {
		code := protocol.ErrBadRequest
		if errors.Is(err, scene.ErrDuplicateID) {
			code = protocol.ErrDuplicateID
		}
		w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityAdded, Entity: e.ID, Denied: code})
		w.sendTo(c, protocol.NewError(code, err.Error()))
		return
	}
	w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityAdded, Entity: e.ID})
	w.broadcast(c.ID, msg)
}

// handleEntityModified is the authority arbiter. Claims and releases ride
// on the mover field; transform/state writes pass only when the sender is
// the current mover or the entity is free. The client's local apply was
// optimistic; anything we drop gets corrected by our next echo.
func (w *World) handleEntityModified(tick uint64, c *clientState, raw []byte) {
	var msg protocol.EntityModifiedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "malformed entityModified"))
		return
	}
	e := w.entities.Get(msg.ID)
	if e == nil {
		w.sendTo(c, protocol.NewError(protocol.ErrUnknownEntity, msg.ID))
		return
	}

	if msg.Uploader != nil {
		// Provisional upload state belongs to whoever opened it.
		if *msg.Uploader != "" && *msg.Uploader != c.ID {
			w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "uploader must be the sender"))
			return
		}
		if *msg.Uploader == "" && e.Uploader != "" && e.Uploader != c.ID {
			w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityModified, Entity: e.ID, Denied: protocol.ErrNoPermission})
			w.sendTo(c, protocol.NewError(protocol.ErrNoPermission, "entity is uploading for another participant"))
			return
		}
	}

	if msg.Mover != nil {
		if *msg.Mover != "" {
			// Claim. Only for yourself, not over a live holder, and never
			// over somebody else's provisional upload.
			if *msg.Mover != c.ID {
				w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "mover must be the sender"))
				return
			}
			if !w.claimAllowed(e, c.ID) {
				w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityModified, Entity: e.ID, Denied: protocol.ErrClaimDenied})
				// Correct the optimistic local claim: last server word wins.
				current := e.Mover
				w.sendTo(c, protocol.EntityModifiedMsg{
					Type:        protocol.TypeEntityModified,
					ID:          e.ID,
					EntityPatch: scene.EntityPatch{Mover: &current},
				})
				return
			}
		} else {
			// Release. Idempotent: a release of a free entity is dropped,
			// a release by a non-holder is dropped.
			if e.Mover != "" && e.Mover != c.ID {
				w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityModified, Entity: e.ID, Denied: protocol.ErrClaimDenied})
				return
			}
		}
	}

	if (msg.TouchesTransform() || msg.State != nil || msg.StateCleared) && !w.writeAllowed(e, c.ID, &msg.EntityPatch) {
		w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityModified, Entity: e.ID, Denied: protocol.ErrClaimDenied})
		return
	}

	if _, err := w.entities.Apply(msg.ID, &msg.EntityPatch); err != nil {
		w.sendTo(c, protocol.NewError(protocol.ErrUnknownEntity, msg.ID))
		return
	}
	w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityModified, Entity: e.ID})
	w.broadcast(c.ID, msg)
}

// claimAllowed: free, or already ours, or held by a participant that is no
// longer connected (their release raced the disconnect sweep).
func (w *World) claimAllowed(e *scene.Entity, pid string) bool {
	if e.Uploader != "" && e.Uploader != pid {
		return false
	}
	if e.Mover == "" || e.Mover == pid {
		return true
	}
	_, holderConnected := w.clients[e.Mover]
	return !holderConnected
}

// writeAllowed gates transform/state deltas: while an entity is claimed
// only the mover (including one granted in this same message) may write;
// a free entity accepts committed edits from any builder (undo replay).
func (w *World) writeAllowed(e *scene.Entity, pid string, patch *scene.EntityPatch) bool {
	mover := e.Mover
	if patch.Mover != nil {
		mover = *patch.Mover
	}
	return mover == "" || mover == pid
}

func (w *World) handleEntityRemoved(tick uint64, c *clientState, raw []byte) {
	var msg protocol.EntityRemovedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "malformed entityRemoved"))
		return
	}
	e := w.entities.Get(msg.ID)
	if e == nil {
		// Removal races are expected; nothing to correct.
		return
	}
	if e.Pinned {
		w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityRemoved, Entity: e.ID, Denied: protocol.ErrNoPermission})
		w.sendTo(c, protocol.NewError(protocol.ErrNoPermission, "entity is pinned"))
		return
	}
	if e.Uploader != "" && e.Uploader != c.ID {
		w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityRemoved, Entity: e.ID, Denied: protocol.ErrNoPermission})
		w.sendTo(c, protocol.NewError(protocol.ErrNoPermission, "entity is still uploading"))
		return
	}
	w.entities.Remove(msg.ID)
	w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeEntityRemoved, Entity: msg.ID})
	w.broadcast(c.ID, msg)
}

func (w *World) handleBlueprintAdded(tick uint64, c *clientState, raw []byte) {
	var msg protocol.BlueprintAddedMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Blueprint == nil {
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "malformed blueprintAdded"))
		return
	}
	if err := w.blueprints.Add(msg.Blueprint); err != nil {
		code := protocol.ErrBadRequest
		if errors.Is(err, scene.ErrDuplicateID) {
			code = protocol.ErrDuplicateID
		}
		w.sendTo(c, protocol.NewError(code, err.Error()))
		return
	}
	w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeBlueprintAdded, Blueprint: msg.Blueprint.ID})
	w.broadcast(c.ID, msg)
}

func (w *World) handleBlueprintModified(tick uint64, c *clientState, raw []byte) {
	var msg protocol.BlueprintModifiedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.sendTo(c, protocol.NewError(protocol.ErrBadRequest, "malformed blueprintModified"))
		return
	}
	if !w.blueprints.Modify(&msg.BlueprintPatch) {
		// Stale versions are expected under concurrent editing: logged,
		// never surfaced to the user.
		w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeBlueprintModified, Blueprint: msg.BlueprintPatch.ID, Denied: protocol.ErrStaleVersion})
		return
	}
	w.logChange(ChangeEntry{Tick: tick, Origin: c.ID, Action: protocol.TypeBlueprintModified, Blueprint: msg.BlueprintPatch.ID})
	w.broadcast(c.ID, msg)
}

// broadcast marshals v once and queues it to every client except the
// originator. Slow consumers lose messages rather than stalling the loop;
// their next full snapshot (reconnect) resyncs them.
func (w *World) broadcast(except string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.log.Printf("broadcast marshal: %v", err)
		return
	}
	for id, c := range w.clients {
		if id == except {
			continue
		}
		select {
		case c.Out <- b:
		default:
			w.droppedMsgs.Add(1)
		}
	}
}

func (w *World) sendTo(c *clientState, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.log.Printf("send marshal: %v", err)
		return
	}
	select {
	case c.Out <- b:
	default:
		w.droppedMsgs.Add(1)
	}
}
