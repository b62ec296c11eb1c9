// Package selfmodel wraps a reasoning loop with a bounded capability estimate,
// a pinned value profile and an optional continuous reflection step that
// nudges the loop's semantic anchors after every cycle.
package selfmodel

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
)

// #region constants
const (
	DefaultCritiqueWeight = 0.15

	reflectionRate     = 0.05
	vigilanceThreshold = 0.6
	vigilanceBump      = 0.1

	capabilityCeiling = 0.98
	maxTrainingDelta  = 0.2
	perSampleDelta    = 0.02

	reflectionContinuous = "continuous"
)

// Capability names.
const (
	CapReasoning = "reasoning"
	CapPlanning  = "planning"
	CapEthics    = "ethics"
)

var reflectedAnchors = []string{
	memory.AnchorReciprocity,
	memory.AnchorCircularity,
	memory.AnchorTransparency,
}

// #endregion constants

// #region types
// Sample is one structured trace fed to TrainSelfModel. Its content is not
// inspected; only the count matters.
type Sample map[string]any

// Limits lists known gaps of the modeled system.
type Limits struct {
	KnowledgeGaps []string `json:"knowledge_gaps"`
	Tools         []string `json:"tools"`
}

// SelfModel is the capability estimate plus goals and flags.
type SelfModel struct {
	Capabilities         map[string]float64 `json:"capabilities"`
	Limits               Limits             `json:"limits"`
	Goals                []string           `json:"goals"`
	ValueLock            string             `json:"value_lock,omitempty"`
	ContinuousReflection bool               `json:"continuous_reflection"`
}

// DefaultSelfModel returns the starting estimate.
func DefaultSelfModel() SelfModel {
	return SelfModel{
		Capabilities: map[string]float64{
			CapReasoning: 0.7,
			CapPlanning:  0.7,
			CapEthics:    0.8,
		},
		Limits: Limits{KnowledgeGaps: []string{}, Tools: []string{}},
		Goals:  []string{},
	}
}

func (m SelfModel) clone() SelfModel {
	out := m
	out.Capabilities = make(map[string]float64, len(m.Capabilities))
	for k, v := range m.Capabilities {
		out.Capabilities[k] = v
	}
	out.Limits.KnowledgeGaps = append([]string{}, m.Limits.KnowledgeGaps...)
	out.Limits.Tools = append([]string{}, m.Limits.Tools...)
	out.Goals = append([]string{}, m.Goals...)
	return out
}

// #endregion types

// #region adapter
// Adapter owns the self model of one session and drives its loop.
type Adapter struct {
	loop   *loop.Loop
	logger *zap.Logger

	mu    sync.RWMutex
	model SelfModel
}

// NewAdapter wraps l.
func NewAdapter(l *loop.Loop, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		loop:   l,
		logger: logger.Named("selfmodel"),
		model:  DefaultSelfModel(),
	}
}

// Loop returns the wrapped loop.
func (a *Adapter) Loop() *loop.Loop { return a.loop }

// SelfModel returns a detached copy of the current model.
func (a *Adapter) SelfModel() SelfModel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model.clone()
}

// RestoreSelfModel replaces the model, e.g. after loading a session.
func (a *Adapter) RestoreSelfModel(m SelfModel) {
	if m.Capabilities == nil {
		m.Capabilities = DefaultSelfModel().Capabilities
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = m.clone()
}

// #endregion adapter

// #region profile
// EnableValueLock pins a value profile id. It is stored, not enforced.
func (a *Adapter) EnableValueLock(profileID string) {
	a.mu.Lock()
	a.model.ValueLock = profileID
	a.mu.Unlock()
	a.loop.Memory().SetLabel(memory.LabelValueLock, profileID)
}

// TrainSelfModel raises every capability by min(0.2, 0.02*len(samples)),
// counting an empty batch as one, and never above 0.98. Values already above
// the ceiling are left alone.
func (a *Adapter) TrainSelfModel(samples []Sample) {
	n := max(1, len(samples))
	delta := math.Min(maxTrainingDelta, perSampleDelta*float64(n))

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range a.model.Capabilities {
		a.model.Capabilities[k] = math.Max(v, math.Min(capabilityCeiling, v+delta))
	}
	a.logger.Debug("self model trained", zap.Int("samples", len(samples)), zap.Float64("delta", delta))
}

// SetGoals replaces the goal list.
func (a *Adapter) SetGoals(goals []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.Goals = append([]string{}, goals...)
}

// Goals returns a copy of the goal list.
func (a *Adapter) Goals() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string{}, a.model.Goals...)
}

// SetLimits replaces the known limits.
func (a *Adapter) SetLimits(l Limits) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.Limits = Limits{
		KnowledgeGaps: append([]string{}, l.KnowledgeGaps...),
		Tools:         append([]string{}, l.Tools...),
	}
}

// Limits returns a copy of the known limits.
func (a *Adapter) Limits() Limits {
	return a.SelfModel().Limits
}

// #endregion profile

// #region reflection
// ActivateContinuousReflection turns on the post-cycle reflective step.
func (a *Adapter) ActivateContinuousReflection() {
	a.mu.Lock()
	a.model.ContinuousReflection = true
	a.mu.Unlock()
	a.loop.Memory().SetLabel(memory.LabelReflection, reflectionContinuous)
}

// Reflecting reports whether continuous reflection is on.
func (a *Adapter) Reflecting() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model.ContinuousReflection
}

// ReflectiveStep nudges reciprocity, circularity and transparency up by
// critiqueWeight*0.05, capped at 1. It does nothing unless reflection is on.
func (a *Adapter) ReflectiveStep(critiqueWeight float64) error {
	if !a.Reflecting() {
		return nil
	}
	nudge := critiqueWeight * reflectionRate
	next := make(map[string]float64, len(reflectedAnchors))
	for _, name := range reflectedAnchors {
		next[name] = math.Min(1, a.loop.Anchor(name)+nudge)
	}
	if err := a.loop.Memory().SetAnchors(next); err != nil {
		return fmt.Errorf("reflective step: %w", err)
	}
	return nil
}

// #endregion reflection

// #region run
// Run executes one full cycle. When the pre-check drift exceeds 0.6 the
// transparency anchor is raised by 0.1 before expansion.
func (a *Adapter) Run(ctx context.Context, query string, hints map[string]any) (loop.Action, error) {
	obs := a.loop.Perceive(map[string]any{"query": query}, nil)
	outline := a.loop.Harmonize(obs)

	if outline.Scores.Sigma > vigilanceThreshold {
		raised := math.Min(1, a.loop.Anchor(memory.AnchorTransparency)+vigilanceBump)
		if err := a.loop.Memory().SetAnchor(memory.AnchorTransparency, raised); err != nil {
			return loop.Action{}, fmt.Errorf("vigilance: %w", err)
		}
		a.logger.Info("drift vigilance raised transparency",
			zap.Float64("sigma", outline.Scores.Sigma),
			zap.Float64("transparency", raised),
		)
	}

	action, err := a.loop.Expand(ctx, query, hints)
	if err != nil {
		return loop.Action{}, err
	}
	if err := a.ReflectiveStep(DefaultCritiqueWeight); err != nil {
		return action, err
	}
	return action, nil
}

// #endregion run
