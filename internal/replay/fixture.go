package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/gate"
	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Commitments     []FixtureCommitment     `json:"commitments"`
	Interactions    []FixtureInteraction    `json:"interactions"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig overrides loop defaults for one run. Missing fields keep
// their defaults.
type FixtureConfig struct {
	SystemID             string             `json:"system_id"`
	Gate                 *gate.GateConfig   `json:"gate"`
	Anchors              map[string]float64 `json:"anchors"`
	Strict               bool               `json:"strict"`
	ContinuousReflection bool               `json:"continuous_reflection"`
}

// FixtureCommitment is recorded before the first interaction.
type FixtureCommitment struct {
	ID        string   `json:"id"`
	Promise   string   `json:"promise"`
	DueYears  float64  `json:"due_years"`
	KeptRatio *float64 `json:"kept_ratio,omitempty"`
}

// FixtureInteraction is one recorded turn. Kept updates commitment ratios
// before the turn runs.
type FixtureInteraction struct {
	TurnID string             `json:"turn_id"`
	Query  string             `json:"query"`
	Hints  map[string]any     `json:"hints,omitempty"`
	Kept   map[string]float64 `json:"kept,omitempty"`
}

// FixtureExpectedResult captures the expected verdict per turn.
type FixtureExpectedResult struct {
	TurnID  string        `json:"turn_id"`
	Verdict audit.Verdict `json:"verdict"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToLoopConfig merges the fixture overrides into the loop defaults.
func (fc *FixtureConfig) ToLoopConfig() loop.Config {
	cfg := loop.DefaultConfig()
	if fc.SystemID != "" {
		cfg.SystemID = fc.SystemID
	}
	if fc.Gate != nil {
		cfg.Gate = *fc.Gate
	}
	for name, v := range fc.Anchors {
		cfg.DefaultAnchors[name] = v
	}
	return cfg
}

// #endregion fixture-loader
