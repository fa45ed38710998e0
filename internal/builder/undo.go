package builder

import (
	"scenesync.dev/internal/scene"
)

type undoKind int

const (
	// undoAdd re-adds a captured entity (the inverse of a destroy).
	undoAdd undoKind = iota
	// undoRemove destroys an entity (the inverse of a spawn/duplicate).
	undoRemove
	// undoMove restores a captured transform (the inverse of a manipulation).
	undoMove
)

type undoRecord struct {
	kind      undoKind
	id        string
	entity    *scene.Entity
	transform scene.Transform
}

// pushUndo appends a record, dropping the oldest past the cap.
func (b *Builder) pushUndo(r undoRecord) {
	b.undo = append(b.undo, r)
	if limit := b.cfg.UndoMax; limit > 0 && len(b.undo) > limit {
		b.undo = b.undo[len(b.undo)-limit:]
	}
}

func (b *Builder) UndoDepth() int { return len(b.undo) }

// Undo pops the stack and replays the inverse as ordinary add/remove/
// modify operations. It is local-only: not itself undoable and not a
// first-class synced event. An empty stack is a no-op.
func (b *Builder) Undo() error {
	if len(b.undo) == 0 {
		return nil
	}
	r := b.undo[len(b.undo)-1]
	b.undo = b.undo[:len(b.undo)-1]

	switch r.kind {
	case undoAdd:
		e := r.entity.Clone()
		e.Mover = ""
		e.Uploader = ""
		if b.c.Entities.Get(e.ID) != nil {
			return nil
		}
		return b.c.AddEntity(e)

	case undoRemove:
		if b.selected == r.id {
			b.detachGizmo()
			b.selected = ""
			b.mode = ModeIdle
			b.dirty = false
		}
		if b.c.Entities.Get(r.id) == nil {
			return nil
		}
		return b.c.RemoveEntity(r.id)

	case undoMove:
		e := b.c.Entities.Get(r.id)
		if e == nil {
			return nil
		}
		// A transform write on a free entity is accepted server-side, so
		// undoing a move needs no re-claim.
		if e.Mover != "" && e.Mover != b.c.ParticipantID {
			return nil
		}
		pos, quat, scl := r.transform.Position, r.transform.Quaternion, r.transform.Scale
		return b.c.ModifyEntity(r.id, scene.EntityPatch{
			Position:   &pos,
			Quaternion: &quat,
			Scale:      &scl,
		})
	}
	return nil
}
