package scene

import (
	"fmt"
	"log"
	"sort"
)

// Blueprints is the versioned template registry.
// All access must happen on the owning loop goroutine.
type Blueprints struct {
	byID map[string]*Blueprint
	log  *log.Logger
}

func NewBlueprints(logger *log.Logger) *Blueprints {
	return &Blueprints{byID: map[string]*Blueprint{}, log: logger}
}

func (r *Blueprints) Add(b *Blueprint) error {
	if b.ID == "" {
		return fmt.Errorf("add blueprint: empty id")
	}
	if _, exists := r.byID[b.ID]; exists {
		return fmt.Errorf("add blueprint %s: %w", b.ID, ErrDuplicateID)
	}
	r.byID[b.ID] = b
	return nil
}

func (r *Blueprints) Get(id string) *Blueprint { return r.byID[id] }

func (r *Blueprints) Len() int { return len(r.byID) }

// Modify applies a version-gated merge: the change lands only when its
// version strictly exceeds the known one, otherwise it is dropped as stale.
// This is last-writer-wins by version, not a merge of concurrent edits.
func (r *Blueprints) Modify(patch *BlueprintPatch) bool {
	b := r.byID[patch.ID]
	if b == nil {
		if r.log != nil {
			r.log.Printf("blueprint modify: unknown id %s", patch.ID)
		}
		return false
	}
	if patch.Version <= b.Version {
		if r.log != nil {
			r.log.Printf("blueprint modify: stale version %d <= %d for %s (dropped)", patch.Version, b.Version, patch.ID)
		}
		return false
	}
	patch.apply(b)
	return true
}

// Scene returns the world-scene blueprint singleton, if registered.
func (r *Blueprints) Scene() *Blueprint {
	for _, b := range r.byID {
		if b.Scene {
			return b
		}
	}
	return nil
}

// All returns blueprints sorted by id for deterministic snapshots.
func (r *Blueprints) All() []*Blueprint {
	out := make([]*Blueprint, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
