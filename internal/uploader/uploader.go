package uploader

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"scenesync.dev/internal/assets"
	"scenesync.dev/internal/client"
	"scenesync.dev/internal/scene"
)

// Result is the outcome of one asset upload, delivered on Results().
// The caller's loop drains it and must call Resolve(r) from the same
// goroutine that owns the client replica.
type Result struct {
	EntityID  string
	Blueprint string // set instead of EntityID for scene-model swaps
	Asset     string
	Err       error
}

// Coordinator runs the provisional-entity upload flow: the entity goes
// into the scene immediately with uploader set to the local participant,
// the file uploads in the background, and resolution either clears the
// uploader (broadcast) or tears the entity down. Uploads are independent;
// there is no ordering between them.
type Coordinator struct {
	log   *log.Logger
	c     *client.Client
	store assets.Store

	mu      sync.Mutex
	pending map[string]string // entity id -> asset name

	results chan Result
}

func New(c *client.Client, store assets.Store, logger *log.Logger) *Coordinator {
	return &Coordinator{
		log:     logger,
		c:       c,
		store:   store,
		pending: map[string]string{},
		results: make(chan Result, 16),
	}
}

func (u *Coordinator) Results() <-chan Result { return u.results }

func (u *Coordinator) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// Add places a new provisional entity and starts its upload. A fresh
// blueprint binds the content-addressed asset url as its model, so every
// participant resolves the same bytes once the upload lands. Other
// participants see the entity at once, flagged with our uploader id so
// they can render a loading placeholder instead of fetching a missing
// asset.
func (u *Coordinator) Add(ctx context.Context, origName string, data []byte, at scene.Transform) (string, error) {
	if max := u.c.MaxUploadMB; max > 0 && len(data) > max<<20 {
		return "", fmt.Errorf("uploader: %s exceeds %d MB", origName, max)
	}

	name := assets.HashedName(origName, data)
	bp := &scene.Blueprint{
		ID:      uuid.NewString(),
		Version: 0,
		Name:    origName,
		Model:   assets.URL(name),
	}
	if err := u.c.AddBlueprint(bp); err != nil {
		return "", err
	}

	e := &scene.Entity{
		ID:         uuid.NewString(),
		Type:       scene.TypeApp,
		Blueprint:  bp.ID,
		Position:   at.Position,
		Quaternion: at.Quaternion,
		Scale:      at.Scale,
		Uploader:   u.c.ParticipantID,
	}
	if err := u.c.AddEntity(e); err != nil {
		return "", err
	}

	u.mu.Lock()
	u.pending[e.ID] = name
	u.mu.Unlock()

	go func() {
		err := u.upload(ctx, name, data)
		u.results <- Result{EntityID: e.ID, Asset: name, Err: err}
	}()
	return e.ID, nil
}

// ReplaceScene uploads a new environment model and, once the upload
// lands, points the scene blueprint at it. Dropping a scene asset never
// spawns an entity; the current model keeps rendering until the swap
// broadcasts at the next version.
func (u *Coordinator) ReplaceScene(ctx context.Context, origName string, data []byte) (string, error) {
	if max := u.c.MaxUploadMB; max > 0 && len(data) > max<<20 {
		return "", fmt.Errorf("uploader: %s exceeds %d MB", origName, max)
	}
	bp := u.c.Blueprints.Scene()
	if bp == nil {
		return "", fmt.Errorf("uploader: no scene blueprint to replace")
	}

	name := assets.HashedName(origName, data)
	go func() {
		err := u.upload(ctx, name, data)
		u.results <- Result{Blueprint: bp.ID, Asset: name, Err: err}
	}()
	return name, nil
}

func (u *Coordinator) upload(ctx context.Context, name string, data []byte) error {
	// Content-addressed names make re-uploads of known assets free.
	if ok, err := u.store.Exists(ctx, name); err == nil && ok {
		return nil
	}
	return u.store.Upload(ctx, name, bytes.NewReader(data))
}

// Resolve applies one upload outcome to the replica: success clears the
// uploader and broadcasts the clearing; failure destroys the provisional
// entity. No retries.
func (u *Coordinator) Resolve(r Result) error {
	if r.Blueprint != "" {
		return u.resolveScene(r)
	}

	u.mu.Lock()
	delete(u.pending, r.EntityID)
	u.mu.Unlock()

	if u.c.Entities.Get(r.EntityID) == nil {
		// Already torn down (e.g. undone) while the upload ran.
		return nil
	}

	if r.Err != nil {
		u.log.Printf("upload failed asset=%s entity=%s err=%v", r.Asset, r.EntityID, r.Err)
		if err := u.c.RemoveEntity(r.EntityID); err != nil {
			return err
		}
		return fmt.Errorf("uploader: %s: %w", r.Asset, r.Err)
	}

	empty := ""
	return u.c.ModifyEntity(r.EntityID, scene.EntityPatch{Uploader: &empty})
}

func (u *Coordinator) resolveScene(r Result) error {
	if r.Err != nil {
		u.log.Printf("scene upload failed asset=%s err=%v", r.Asset, r.Err)
		return fmt.Errorf("uploader: %s: %w", r.Asset, r.Err)
	}
	bp := u.c.Blueprints.Get(r.Blueprint)
	if bp == nil {
		return nil
	}
	model := assets.URL(r.Asset)
	return u.c.ModifyBlueprint(scene.BlueprintPatch{ID: bp.ID, Version: bp.Version + 1, Model: &model})
}
