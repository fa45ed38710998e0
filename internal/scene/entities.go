package scene

import (
	"fmt"
	"sort"
)

type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventModified
	EventRemoved
)

// Event notifies dependent systems (render handles, physics actors) of
// structural and field changes. Events are local only; broadcasting is the
// caller's decision.
type Event struct {
	Kind   EventKind
	Entity *Entity
}

// Entities is the canonical id -> entity map.
// All access must happen on the owning loop goroutine.
type Entities struct {
	byID map[string]*Entity
	subs []func(Event)
}

func NewEntities() *Entities {
	return &Entities{byID: map[string]*Entity{}}
}

func (r *Entities) Subscribe(fn func(Event)) { r.subs = append(r.subs, fn) }

func (r *Entities) emit(kind EventKind, e *Entity) {
	for _, fn := range r.subs {
		fn(Event{Kind: kind, Entity: e})
	}
}

func (r *Entities) Add(e *Entity) error {
	if e.ID == "" {
		return fmt.Errorf("add entity: empty id")
	}
	if _, exists := r.byID[e.ID]; exists {
		return fmt.Errorf("add entity %s: %w", e.ID, ErrDuplicateID)
	}
	if e.Scale == (Vec3{}) {
		e.Scale = Vec3{1, 1, 1}
	}
	if e.Quaternion == (Quat{}) {
		e.Quaternion = IdentityQuat()
	}
	r.byID[e.ID] = e
	r.emit(EventAdded, e)
	return nil
}

func (r *Entities) Get(id string) *Entity { return r.byID[id] }

func (r *Entities) Len() int { return len(r.byID) }

// Apply shallow-merges the patch and emits a modify event. It never sends
// network messages; callers decide whether to broadcast.
func (r *Entities) Apply(id string, patch *EntityPatch) (*Entity, error) {
	e := r.byID[id]
	if e == nil {
		return nil, fmt.Errorf("modify entity %s: %w", id, ErrUnknownEntity)
	}
	patch.apply(e)
	r.emit(EventModified, e)
	return e, nil
}

func (r *Entities) Remove(id string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	delete(r.byID, id)
	r.emit(EventRemoved, e)
	return true
}

// Claim grants mover authority to participant. It succeeds only when the
// entity is free or the participant already holds it; otherwise it is a
// no-op and the caller must wait for the holder to release.
func (r *Entities) Claim(id, participant string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	if e.Mover != "" && e.Mover != participant {
		return false
	}
	if e.Mover != participant {
		e.Mover = participant
		r.emit(EventModified, e)
	}
	return true
}

// Release clears mover authority and wipes script state, leaving the
// last-applied transform as the committed value. Idempotent: releasing a
// free entity changes nothing.
func (r *Entities) Release(id string) (*Entity, bool) {
	e := r.byID[id]
	if e == nil {
		return nil, false
	}
	if e.Mover == "" {
		return e, false
	}
	e.Mover = ""
	// Script state resets on every release. Surprising but intentional:
	// app scripts restart fresh after any manipulation.
	e.State = map[string]any{}
	r.emit(EventModified, e)
	return e, true
}

// ReleaseAllHeldBy force-releases every entity whose mover is participant,
// e.g. when that participant disconnects mid-manipulation.
func (r *Entities) ReleaseAllHeldBy(participant string) []*Entity {
	var released []*Entity
	for _, e := range r.byID {
		if e.Mover == participant {
			if rel, ok := r.Release(e.ID); ok {
				released = append(released, rel)
			}
		}
	}
	return released
}

// UploadingBy returns entities still provisional under participant.
func (r *Entities) UploadingBy(participant string) []*Entity {
	var out []*Entity
	for _, e := range r.byID {
		if e.Uploader == participant {
			out = append(out, e)
		}
	}
	return out
}

// All returns entities sorted by id for deterministic snapshots.
func (r *Entities) All() []*Entity {
	out := make([]*Entity, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
