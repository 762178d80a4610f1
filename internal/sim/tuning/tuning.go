package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"aging.ai/internal/diag"
	"aging.ai/internal/protocol"
	"aging.ai/internal/sim/calendar"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`
	DaysPerSeason   int    `yaml:"days_per_season" json:"days_per_season"`

	Portraits   Portraits   `yaml:"portraits" json:"portraits"`
	Diagnostics Diagnostics `yaml:"diagnostics" json:"diagnostics"`
}

type Portraits struct {
	Dir string `yaml:"dir" json:"dir"`
	Ext string `yaml:"ext" json:"ext"`
}

// Diagnostics.Dir empty means <data>/diagnostics.
type Diagnostics struct {
	MinLevel string `yaml:"min_level" json:"min_level"`
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: protocol.Version,
		DaysPerSeason:   calendar.DefaultDaysPerSeason,
		Portraits: Portraits{
			Dir: "./portraits",
			Ext: "png",
		},
		Diagnostics: Diagnostics{
			MinLevel: "DEBUG",
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
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values left by a partial file.
func (t *Tuning) Normalize() {
	d := Defaults()
	if strings.TrimSpace(t.ProtocolVersion) == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.DaysPerSeason == 0 {
		t.DaysPerSeason = d.DaysPerSeason
	}
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	t.Portraits.Ext = strings.TrimPrefix(strings.TrimSpace(t.Portraits.Ext), ".")
	if t.Portraits.Ext == "" {
		t.Portraits.Ext = d.Portraits.Ext
	}
	if strings.TrimSpace(t.Portraits.Dir) == "" {
		t.Portraits.Dir = d.Portraits.Dir
	}
	if strings.TrimSpace(t.Diagnostics.MinLevel) == "" {
		t.Diagnostics.MinLevel = d.Diagnostics.MinLevel
	}
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion != protocol.Version {
		return fmt.Errorf("protocol_version %q does not match server protocol %q", t.ProtocolVersion, protocol.Version)
	}
	if t.DaysPerSeason < 1 {
		return fmt.Errorf("days_per_season must be >= 1, got %d", t.DaysPerSeason)
	}
	if strings.ContainsAny(t.Portraits.Ext, `/\`) {
		return fmt.Errorf("portraits.ext must be a bare extension, got %q", t.Portraits.Ext)
	}
	if _, ok := diag.ParseLevel(t.Diagnostics.MinLevel); !ok {
		return fmt.Errorf("diagnostics.min_level: unknown level %q", t.Diagnostics.MinLevel)
	}
	return nil
}

// MinLevel returns the configured diagnostic threshold.
func (t Tuning) MinLevel() diag.Level {
	lvl, ok := diag.ParseLevel(t.Diagnostics.MinLevel)
	if !ok {
		return diag.LevelDebug
	}
	return lvl
}
