package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// World loop rate and the maximum rate a mover may emit transform
	// deltas at. SendRateHz must not exceed TickRateHz.
	TickRateHz int `yaml:"tick_rate_hz"`
	SendRateHz int `yaml:"send_rate_hz"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	MaxUploadMB        int `yaml:"max_upload_mb"`

	Builder Builder `yaml:"builder"`
}

// Builder tunes the client-side manipulation tool.
type Builder struct {
	SnapDistance float64 `yaml:"snap_distance"`
	SnapDegrees  float64 `yaml:"snap_degrees"`
	ProjectSpeed float64 `yaml:"project_speed"`
	ProjectMin   float64 `yaml:"project_min"`
	ProjectMax   float64 `yaml:"project_max"`
	UndoMax      int     `yaml:"undo_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         30,
		SendRateHz:         20,
		SnapshotEveryTicks: 1800,
		MaxUploadMB:        100,
		Builder: Builder{
			SnapDistance: 1,
			SnapDegrees:  5,
			ProjectSpeed: 10,
			ProjectMin:   3,
			ProjectMax:   50,
			UndoMax:      50,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.SendRateHz > t.TickRateHz {
		t.SendRateHz = t.TickRateHz
	}
	return t, nil
}
