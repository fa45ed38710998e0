package scene

// Entity is one synchronized scene object. The authoritative copy lives in
// the server registry; clients hold a locally mutable cache of the same
// records. Mover and Uploader are participant ids; empty means unset.
type Entity struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Blueprint string `json:"blueprint"`

	Position   Vec3 `json:"position"`
	Quaternion Quat `json:"quaternion"`
	Scale      Vec3 `json:"scale"`

	Mover    string `json:"mover,omitempty"`
	Uploader string `json:"uploader,omitempty"`
	Pinned   bool   `json:"pinned,omitempty"`

	// State is free-form script state. It is wiped whenever authority over
	// the entity is released.
	State map[string]any `json:"state,omitempty"`
}

const (
	TypeApp    = "app"
	TypePlayer = "player"
)

func (e *Entity) Transform() Transform {
	return Transform{Position: e.Position, Quaternion: e.Quaternion, Scale: e.Scale}
}

func (e *Entity) SetTransform(t Transform) {
	e.Position = t.Position
	e.Quaternion = t.Quaternion
	e.Scale = t.Scale
}

// Clone deep-copies the entity, including State.
func (e *Entity) Clone() *Entity {
	c := *e
	c.State = cloneState(e.State)
	return &c
}

func cloneState(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue covers what json.Unmarshal produces: maps, slices, scalars.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneState(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// EntityPatch is a partial update. Nil pointers leave fields untouched; an
// empty Mover/Uploader string clears the field (participant ids are never
// empty on the wire). A non-nil State replaces the whole map.
type EntityPatch struct {
	Blueprint  *string `json:"blueprint,omitempty"`
	Position   *Vec3   `json:"position,omitempty"`
	Quaternion *Quat   `json:"quaternion,omitempty"`
	Scale      *Vec3   `json:"scale,omitempty"`
	Mover      *string `json:"mover,omitempty"`
	Uploader   *string `json:"uploader,omitempty"`
	Pinned     *bool   `json:"pinned,omitempty"`

	State map[string]any `json:"state,omitempty"`
	// StateCleared marks an explicit reset to an empty map, which the
	// omitempty encoding above cannot express.
	StateCleared bool `json:"stateCleared,omitempty"`
}

// TouchesTransform reports whether the patch writes any spatial field.
func (p *EntityPatch) TouchesTransform() bool {
	return p.Position != nil || p.Quaternion != nil || p.Scale != nil
}

func (p *EntityPatch) apply(e *Entity) {
	if p.Blueprint != nil {
		e.Blueprint = *p.Blueprint
	}
	if p.Position != nil {
		e.Position = *p.Position
	}
	if p.Quaternion != nil {
		e.Quaternion = *p.Quaternion
	}
	if p.Scale != nil {
		e.Scale = *p.Scale
	}
	if p.Mover != nil {
		e.Mover = *p.Mover
	}
	if p.Uploader != nil {
		e.Uploader = *p.Uploader
	}
	if p.Pinned != nil {
		e.Pinned = *p.Pinned
	}
	if p.StateCleared {
		e.State = map[string]any{}
	} else if p.State != nil {
		e.State = cloneState(p.State)
	}
}
