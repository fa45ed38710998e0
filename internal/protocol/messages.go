package protocol

import "scenesync.dev/internal/scene"

// hello (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	// Builder requests the build capability. The server may refuse it;
	// the granted value comes back in welcome.
	Builder bool `json:"builder,omitempty"`
}

// welcome (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ParticipantID   string `json:"participant_id"`
	Builder         bool   `json:"builder"`
	TickRateHz      int    `json:"tick_rate_hz"`
	SendRateHz      int    `json:"send_rate_hz"`
	MaxUploadMB     int    `json:"max_upload_mb"`
	AssetsURL       string `json:"assets_url,omitempty"`
}

// snapshot (server -> client): full entity + blueprint state at join.
type SnapshotMsg struct {
	Type       string             `json:"type"`
	Entities   []*scene.Entity    `json:"entities"`
	Blueprints []*scene.Blueprint `json:"blueprints"`
}

type EntityAddedMsg struct {
	Type   string        `json:"type"`
	Entity *scene.Entity `json:"entity"`
}

// entityModified carries any subset of mutable entity fields. Claim and
// release of mover authority ride on the Mover field: a participant id
// claims, an empty string releases.
type EntityModifiedMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	scene.EntityPatch
}

type EntityRemovedMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type BlueprintAddedMsg struct {
	Type      string           `json:"type"`
	Blueprint *scene.Blueprint `json:"blueprint"`
}

// blueprintModified is rejected by registries unless its version strictly
// exceeds the locally known version.
type BlueprintModifiedMsg struct {
	Type string `json:"type"`
	scene.BlueprintPatch
}

// error (server -> offending client only)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: message}
}
