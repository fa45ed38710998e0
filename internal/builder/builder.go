package builder

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"scenesync.dev/internal/client"
	"scenesync.dev/internal/protocol"
	"scenesync.dev/internal/scene"
	"scenesync.dev/internal/tuning"
)

type Mode int

const (
	ModeIdle Mode = iota
	ModeGrab
	ModeTranslate
	ModeRotate
	ModeScale
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeGrab:
		return "grab"
	case ModeTranslate:
		return "translate"
	case ModeRotate:
		return "rotate"
	case ModeScale:
		return "scale"
	}
	return "unknown"
}

// Raycaster resolves the pointer ray to the nearest hit entity id, or ""
// when the pointer is over empty space.
type Raycaster interface {
	RaycastAtPointer(ray scene.Ray) string
}

// SnapIndex finds construction points near a position, used for
// snap-to-point while grabbing.
type SnapIndex interface {
	NearestPoint(p scene.Vec3, radius float64) (scene.Vec3, bool)
}

// Gizmo is the external translate/rotate/scale manipulator. The builder
// attaches it to a proxy transform and copies proxy -> entity every tick
// while the drag is live.
type Gizmo interface {
	Attach(t scene.Transform)
	Detach()
	Active() bool
	Proxy() scene.Transform
}

// Builder drives one participant's edit session: selection, the grab /
// gizmo modes, duplicate/destroy, pin, unlink and the local undo stack.
// Claims are optimistic; a server correction that hands the mover to
// someone else shows up as a stolen selection on the next Tick.
type Builder struct {
	log *log.Logger
	c   *client.Client
	cfg tuning.Builder

	ray  Raycaster
	snap SnapIndex
	giz  Gizmo

	mode     Mode
	selected string

	grabDistance float64
	pointer      scene.Ray
	NoSnap       bool

	undo []undoRecord

	dirty    bool
	lastSend time.Time
	now      func() time.Time
}

func New(c *client.Client, cfg tuning.Builder, logger *log.Logger) *Builder {
	return &Builder{
		log: logger,
		c:   c,
		cfg: cfg,
		now: time.Now,
	}
}

func (b *Builder) SetRaycaster(r Raycaster) { b.ray = r }
func (b *Builder) SetSnapIndex(s SnapIndex) { b.snap = s }
func (b *Builder) SetGizmo(g Gizmo)         { b.giz = g }

func (b *Builder) Mode() Mode       { return b.mode }
func (b *Builder) Selected() string { return b.selected }

// SelectAtPointer raycasts and selects whatever the pointer hits.
func (b *Builder) SelectAtPointer(ray scene.Ray) error {
	if b.ray == nil {
		return fmt.Errorf("builder: no raycaster attached")
	}
	id := b.ray.RaycastAtPointer(ray)
	if id == "" {
		return b.Deselect()
	}
	return b.Select(id)
}

// Select releases any current selection (committing its transform), then
// claims the new entity. A claim that is locally visible as held by a
// still-present other participant fails immediately; a claim that races a
// remote one goes out optimistically and is corrected by the server echo.
func (b *Builder) Select(id string) error {
	if b.selected == id {
		return nil
	}
	if err := b.Deselect(); err != nil {
		return err
	}

	e := b.c.Entities.Get(id)
	if e == nil {
		return fmt.Errorf("builder: unknown entity %s", id)
	}
	if e.Uploader != "" && e.Uploader != b.c.ParticipantID {
		return nil
	}
	if !b.c.Entities.Claim(id, b.c.ParticipantID) {
		// Locally known holder wins without a round trip.
		return nil
	}

	me := b.c.ParticipantID
	err := b.c.Send(protocol.EntityModifiedMsg{
		Type:        protocol.TypeEntityModified,
		ID:          id,
		EntityPatch: scene.EntityPatch{Mover: &me},
	})
	if err != nil {
		return err
	}

	b.selected = id
	b.mode = ModeGrab
	b.grabDistance = clamp(e.Position.Len(), b.cfg.ProjectMin, b.cfg.ProjectMax)
	b.pushUndo(undoRecord{kind: undoMove, id: id, transform: e.Transform()})
	return nil
}

// Deselect commits the selection: final transform flattened into entity
// data, mover cleared, script state wiped, one last broadcast.
func (b *Builder) Deselect() error {
	if b.selected == "" {
		return nil
	}
	id := b.selected
	b.detachGizmo()
	b.selected = ""
	b.mode = ModeIdle
	b.dirty = false

	e := b.c.Entities.Get(id)
	if e == nil {
		return nil
	}
	if e.Mover != b.c.ParticipantID {
		// Already stolen or force-released; nothing to commit.
		return nil
	}

	empty := ""
	pos, quat, scl := e.Position, e.Quaternion, e.Scale
	return b.c.ModifyEntity(id, scene.EntityPatch{
		Position:     &pos,
		Quaternion:   &quat,
		Scale:        &scl,
		Mover:        &empty,
		StateCleared: true,
	})
}

// SetMode switches between the manipulation modes directly; entering a
// gizmo mode attaches it to a proxy copy of the current transform.
func (b *Builder) SetMode(m Mode) error {
	if b.selected == "" {
		return fmt.Errorf("builder: no selection")
	}
	if m == b.mode {
		return nil
	}
	b.detachGizmo()
	b.mode = m
	if m == ModeTranslate || m == ModeRotate || m == ModeScale {
		if b.giz == nil {
			return fmt.Errorf("builder: no gizmo attached")
		}
		e := b.c.Entities.Get(b.selected)
		if e == nil {
			return fmt.Errorf("builder: unknown entity %s", b.selected)
		}
		b.giz.Attach(e.Transform())
	}
	return nil
}

func (b *Builder) detachGizmo() {
	if b.giz != nil && (b.mode == ModeTranslate || b.mode == ModeRotate || b.mode == ModeScale) {
		b.giz.Detach()
	}
}

// SetPointerRay feeds the current view ray; the grabbed entity follows it
// on the next Tick.
func (b *Builder) SetPointerRay(r scene.Ray) { b.pointer = r }

// PushPull moves the grabbed entity toward or away from the viewer.
// delta is in scroll units; dt scales it to the frame.
func (b *Builder) PushPull(delta, dt float64) {
	if b.mode != ModeGrab {
		return
	}
	b.grabDistance = clamp(b.grabDistance+delta*b.cfg.ProjectSpeed*dt, b.cfg.ProjectMin, b.cfg.ProjectMax)
}

// ScrollRotate spins the grabbed entity around the vertical axis.
func (b *Builder) ScrollRotate(degrees float64) {
	if b.mode != ModeGrab || b.selected == "" {
		return
	}
	e := b.c.Entities.Get(b.selected)
	if e == nil {
		return
	}
	yaw := e.Quaternion.Yaw()*scene.Rad2Deg + degrees
	if !b.NoSnap {
		yaw = scene.SnapDegrees(yaw, b.cfg.SnapDegrees)
	}
	e.Quaternion = scene.QuatFromYaw(yaw * scene.Deg2Rad)
	b.dirty = true
}

// ScrollScale resizes the grabbed entity uniformly.
func (b *Builder) ScrollScale(factor float64) {
	if b.mode != ModeGrab || b.selected == "" {
		return
	}
	e := b.c.Entities.Get(b.selected)
	if e == nil {
		return
	}
	for i := range e.Scale {
		e.Scale[i] = clamp(e.Scale[i]*factor, 0.1, 10)
	}
	b.dirty = true
}

// Tick advances the edit session: reconciles stolen selections, moves the
// grabbed entity along the pointer ray, copies the gizmo proxy while a
// drag is live, and flushes dirty transforms at the send rate.
func (b *Builder) Tick() error {
	if b.selected == "" {
		return nil
	}
	e := b.c.Entities.Get(b.selected)
	if e == nil || (e.Mover != "" && e.Mover != b.c.ParticipantID) {
		// Server gave the entity away (or removed it) while we held it
		// optimistically. Drop the selection without committing.
		b.log.Printf("selection stolen entity=%s", b.selected)
		b.detachGizmo()
		b.selected = ""
		b.mode = ModeIdle
		b.dirty = false
		return nil
	}

	switch b.mode {
	case ModeGrab:
		p := b.pointer.Origin.Add(b.pointer.Dir.Scale(b.grabDistance))
		if !b.NoSnap && b.snap != nil {
			if sp, ok := b.snap.NearestPoint(p, b.cfg.SnapDistance); ok {
				p = sp
			}
		}
		if p != e.Position {
			e.Position = p
			b.dirty = true
		}
	case ModeTranslate, ModeRotate, ModeScale:
		if b.giz != nil && b.giz.Active() {
			t := b.giz.Proxy()
			if t != e.Transform() {
				e.SetTransform(t)
				b.dirty = true
			}
		}
	}

	return b.flush(e)
}

// flush sends the pending transform delta, at most SendRate times/sec.
func (b *Builder) flush(e *scene.Entity) error {
	if !b.dirty {
		return nil
	}
	interval := time.Second / time.Duration(max(b.c.SendRateHz, 1))
	now := b.now()
	if now.Sub(b.lastSend) < interval {
		return nil
	}
	b.lastSend = now
	b.dirty = false

	pos, quat, scl := e.Position, e.Quaternion, e.Scale
	return b.c.ModifyEntity(e.ID, scene.EntityPatch{
		Position:   &pos,
		Quaternion: &quat,
		Scale:      &scl,
	})
}

// Spawn adds a new entity for a blueprint at the projected pointer point,
// yaw-snapped, claimed and grabbed so the user can place it immediately.
func (b *Builder) Spawn(blueprintID string) (string, error) {
	bp := b.c.Blueprints.Get(blueprintID)
	if bp == nil {
		return "", fmt.Errorf("builder: unknown blueprint %s", blueprintID)
	}
	if err := b.Deselect(); err != nil {
		return "", err
	}

	dist := clamp(b.cfg.ProjectMin*2, b.cfg.ProjectMin, b.cfg.ProjectMax)
	pos := b.pointer.Origin.Add(b.pointer.Dir.Scale(dist))
	// Spawn facing back toward the viewer, snapped like any other rotation.
	yaw := scene.SnapDegrees(math.Atan2(-b.pointer.Dir[0], -b.pointer.Dir[2])*scene.Rad2Deg, b.cfg.SnapDegrees)

	e := &scene.Entity{
		ID:         uuid.NewString(),
		Type:       scene.TypeApp,
		Blueprint:  blueprintID,
		Position:   pos,
		Quaternion: scene.QuatFromYaw(yaw * scene.Deg2Rad),
		Scale:      scene.Vec3{1, 1, 1},
		Mover:      b.c.ParticipantID,
	}
	if err := b.c.AddEntity(e); err != nil {
		return "", err
	}

	b.selected = e.ID
	b.mode = ModeGrab
	b.grabDistance = dist
	b.pushUndo(undoRecord{kind: undoRemove, id: e.ID})
	return e.ID, nil
}

// Duplicate deep-copies the selected entity under a new id. A unique
// blueprint is deep-copied too so the duplicate does not share mutable
// template state with the original.
func (b *Builder) Duplicate() (string, error) {
	if b.selected == "" {
		return "", fmt.Errorf("builder: no selection")
	}
	src := b.c.Entities.Get(b.selected)
	if src == nil {
		return "", fmt.Errorf("builder: unknown entity %s", b.selected)
	}

	dup := src.Clone()
	dup.ID = uuid.NewString()
	dup.Mover = ""
	dup.Uploader = ""
	dup.Pinned = false

	if bp := b.c.Blueprints.Get(src.Blueprint); bp != nil && bp.Unique {
		forked := bp.Clone()
		forked.ID = uuid.NewString()
		forked.Version = 0
		if err := b.c.AddBlueprint(forked); err != nil {
			return "", err
		}
		dup.Blueprint = forked.ID
	}

	if err := b.c.AddEntity(dup); err != nil {
		return "", err
	}
	b.pushUndo(undoRecord{kind: undoRemove, id: dup.ID})
	if err := b.Select(dup.ID); err != nil {
		return "", err
	}
	return dup.ID, nil
}

// Destroy removes the selected entity. Pinned entities and instances of
// the scene blueprint refuse, matching the server-side guard.
func (b *Builder) Destroy() error {
	if b.selected == "" {
		return fmt.Errorf("builder: no selection")
	}
	e := b.c.Entities.Get(b.selected)
	if e == nil {
		b.selected = ""
		b.mode = ModeIdle
		return nil
	}
	if e.Pinned {
		return nil
	}
	if bp := b.c.Blueprints.Get(e.Blueprint); bp != nil && bp.Scene {
		return nil
	}

	b.pushUndo(undoRecord{kind: undoAdd, entity: e.Clone()})
	b.detachGizmo()
	b.selected = ""
	b.mode = ModeIdle
	b.dirty = false
	return b.c.RemoveEntity(e.ID)
}

// TogglePin flips the pinned flag on the selected entity.
func (b *Builder) TogglePin() error {
	if b.selected == "" {
		return fmt.Errorf("builder: no selection")
	}
	e := b.c.Entities.Get(b.selected)
	if e == nil {
		return fmt.Errorf("builder: unknown entity %s", b.selected)
	}
	pinned := !e.Pinned
	return b.c.ModifyEntity(e.ID, scene.EntityPatch{Pinned: &pinned})
}

// Unlink detaches the selected entity from a shared blueprint by giving
// it a private deep copy, so later template edits leave it untouched.
func (b *Builder) Unlink() error {
	if b.selected == "" {
		return fmt.Errorf("builder: no selection")
	}
	e := b.c.Entities.Get(b.selected)
	if e == nil {
		return fmt.Errorf("builder: unknown entity %s", b.selected)
	}
	bp := b.c.Blueprints.Get(e.Blueprint)
	if bp == nil {
		return fmt.Errorf("builder: unknown blueprint %s", e.Blueprint)
	}

	forked := bp.Clone()
	forked.ID = uuid.NewString()
	forked.Version = 0
	forked.Scene = false
	if err := b.c.AddBlueprint(forked); err != nil {
		return err
	}
	bid := forked.ID
	return b.c.ModifyEntity(e.ID, scene.EntityPatch{Blueprint: &bid})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
