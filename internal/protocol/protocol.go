package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypeError   = "error"

	// Initial world-state sync. Full snapshot, never delta replay.
	TypeSnapshot = "snapshot"

	TypeEntityAdded    = "entityAdded"
	TypeEntityModified = "entityModified"
	TypeEntityRemoved  = "entityRemoved"

	TypeBlueprintAdded    = "blueprintAdded"
	TypeBlueprintModified = "blueprintModified"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
