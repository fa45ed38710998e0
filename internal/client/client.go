package client

import (
	"encoding/json"
	"fmt"
	"log"

	"scenesync.dev/internal/protocol"
	"scenesync.dev/internal/scene"
)

// Sender pushes one encoded frame toward the server.
type Sender func([]byte) error

// Client is a participant-side replica of the scene. It applies its own
// edits locally first (optimistic), sends them, and then lets any later
// server echo overwrite the local value: the server's word always wins.
type Client struct {
	log *log.Logger

	ParticipantID string
	Builder       bool
	TickRateHz    int
	SendRateHz    int
	MaxUploadMB   int
	AssetsURL     string

	Entities   *scene.Entities
	Blueprints *scene.Blueprints

	send Sender

	// LastError holds the most recent server-reported error, for bots and
	// tests that want to assert on denials.
	LastError *protocol.ErrorMsg
}

func New(logger *log.Logger) *Client {
	return &Client{
		log:        logger,
		Entities:   scene.NewEntities(),
		Blueprints: scene.NewBlueprints(logger),
	}
}

func (c *Client) SetSender(s Sender) { c.send = s }

func (c *Client) Send(v any) error {
	if c.send == nil {
		return fmt.Errorf("client: no sender attached")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(b)
}

// Apply routes one server frame into the local replica.
func (c *Client) Apply(raw []byte) error {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return fmt.Errorf("client: decode: %w", err)
	}

	switch base.Type {
	case protocol.TypeWelcome:
		var msg protocol.WelcomeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		c.ParticipantID = msg.ParticipantID
		c.Builder = msg.Builder
		c.TickRateHz = msg.TickRateHz
		c.SendRateHz = msg.SendRateHz
		c.MaxUploadMB = msg.MaxUploadMB
		c.AssetsURL = msg.AssetsURL

	case protocol.TypeSnapshot:
		var msg protocol.SnapshotMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		c.Entities = scene.NewEntities()
		c.Blueprints = scene.NewBlueprints(c.log)
		for _, b := range msg.Blueprints {
			if err := c.Blueprints.Add(b); err != nil {
				return err
			}
		}
		for _, e := range msg.Entities {
			if err := c.Entities.Add(e); err != nil {
				return err
			}
		}

	case protocol.TypeEntityAdded:
		var msg protocol.EntityAddedMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		if msg.Entity == nil {
			return fmt.Errorf("client: entityAdded without entity")
		}
		// Re-adds can arrive after a local optimistic add; replace.
		c.Entities.Remove(msg.Entity.ID)
		return c.Entities.Add(msg.Entity)

	case protocol.TypeEntityModified:
		var msg protocol.EntityModifiedMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		// Unknown ids are stale deltas for entities we already removed.
		if c.Entities.Get(msg.ID) == nil {
			return nil
		}
		_, err := c.Entities.Apply(msg.ID, &msg.EntityPatch)
		return err

	case protocol.TypeEntityRemoved:
		var msg protocol.EntityRemovedMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		c.Entities.Remove(msg.ID)

	case protocol.TypeBlueprintAdded:
		var msg protocol.BlueprintAddedMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		if msg.Blueprint == nil {
			return fmt.Errorf("client: blueprintAdded without blueprint")
		}
		return c.Blueprints.Add(msg.Blueprint)

	case protocol.TypeBlueprintModified:
		var msg protocol.BlueprintModifiedMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		// Version gate applies on the replica too; stale echoes drop.
		c.Blueprints.Modify(&msg.BlueprintPatch)

	case protocol.TypeError:
		var msg protocol.ErrorMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		c.LastError = &msg
		c.log.Printf("server error code=%s msg=%q", msg.Code, msg.Message)

	default:
		return fmt.Errorf("client: unknown message type %q", base.Type)
	}
	return nil
}

// AddEntity applies locally then sends. The entity is visible immediately
// on this replica; remote replicas see it on the next broadcast.
func (c *Client) AddEntity(e *scene.Entity) error {
	if err := c.Entities.Add(e); err != nil {
		return err
	}
	return c.Send(protocol.EntityAddedMsg{Type: protocol.TypeEntityAdded, Entity: e})
}

func (c *Client) ModifyEntity(id string, patch scene.EntityPatch) error {
	if _, err := c.Entities.Apply(id, &patch); err != nil {
		return err
	}
	return c.Send(protocol.EntityModifiedMsg{Type: protocol.TypeEntityModified, ID: id, EntityPatch: patch})
}

func (c *Client) RemoveEntity(id string) error {
	c.Entities.Remove(id)
	return c.Send(protocol.EntityRemovedMsg{Type: protocol.TypeEntityRemoved, ID: id})
}

func (c *Client) AddBlueprint(b *scene.Blueprint) error {
	if err := c.Blueprints.Add(b); err != nil {
		return err
	}
	return c.Send(protocol.BlueprintAddedMsg{Type: protocol.TypeBlueprintAdded, Blueprint: b})
}

// ModifyBlueprint bumps the version past the local copy and sends. Stale
// concurrent edits lose at every registry that already saw a higher
// version.
func (c *Client) ModifyBlueprint(patch scene.BlueprintPatch) error {
	if cur := c.Blueprints.Get(patch.ID); cur != nil && patch.Version <= cur.Version {
		patch.Version = cur.Version + 1
	}
	if !c.Blueprints.Modify(&patch) {
		return fmt.Errorf("client: blueprint %s rejected locally", patch.ID)
	}
	return c.Send(protocol.BlueprintModifiedMsg{Type: protocol.TypeBlueprintModified, BlueprintPatch: patch})
}
