package scene

// Blueprint is a versioned template entities instantiate. The registry is
// the sole mutator; entities only reference blueprints by id.
type Blueprint struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	Name   string `json:"name,omitempty"`
	Image  string `json:"image,omitempty"`
	Author string `json:"author,omitempty"`
	URL    string `json:"url,omitempty"`
	Desc   string `json:"desc,omitempty"`

	Model  string         `json:"model,omitempty"`
	Script string         `json:"script,omitempty"`
	Props  map[string]any `json:"props,omitempty"`

	Preload  bool `json:"preload,omitempty"`
	Public   bool `json:"public,omitempty"`
	Locked   bool `json:"locked,omitempty"`
	Frozen   bool `json:"frozen,omitempty"`
	Unique   bool `json:"unique,omitempty"`
	Scene    bool `json:"scene,omitempty"`
	Disabled bool `json:"disabled,omitempty"`
}

// Clone deep-copies the blueprint, including Props, so duplicates of
// "unique" blueprints never alias mutable template state.
func (b *Blueprint) Clone() *Blueprint {
	c := *b
	c.Props = cloneState(b.Props)
	return &c
}

// BlueprintPatch carries a partial modification. Version must strictly
// exceed the registry's known version or the whole patch is dropped.
type BlueprintPatch struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	Name   *string `json:"name,omitempty"`
	Image  *string `json:"image,omitempty"`
	Author *string `json:"author,omitempty"`
	URL    *string `json:"url,omitempty"`
	Desc   *string `json:"desc,omitempty"`
	Model  *string `json:"model,omitempty"`
	Script *string `json:"script,omitempty"`

	Props map[string]any `json:"props,omitempty"`

	Preload  *bool `json:"preload,omitempty"`
	Public   *bool `json:"public,omitempty"`
	Locked   *bool `json:"locked,omitempty"`
	Frozen   *bool `json:"frozen,omitempty"`
	Unique   *bool `json:"unique,omitempty"`
	Scene    *bool `json:"scene,omitempty"`
	Disabled *bool `json:"disabled,omitempty"`
}

func (p *BlueprintPatch) apply(b *Blueprint) {
	b.Version = p.Version
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Image != nil {
		b.Image = *p.Image
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.URL != nil {
		b.URL = *p.URL
	}
	if p.Desc != nil {
		b.Desc = *p.Desc
	}
	if p.Model != nil {
		b.Model = *p.Model
	}
	if p.Script != nil {
		b.Script = *p.Script
	}
	if p.Props != nil {
		b.Props = cloneState(p.Props)
	}
	if p.Preload != nil {
		b.Preload = *p.Preload
	}
	if p.Public != nil {
		b.Public = *p.Public
	}
	if p.Locked != nil {
		b.Locked = *p.Locked
	}
	if p.Frozen != nil {
		b.Frozen = *p.Frozen
	}
	if p.Unique != nil {
		b.Unique = *p.Unique
	}
	if p.Scene != nil {
		b.Scene = *p.Scene
	}
	if p.Disabled != nil {
		b.Disabled = *p.Disabled
	}
}
