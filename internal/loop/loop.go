// Package loop runs the perceive, harmonize and expand phases for one
// session. A Loop is not safe for concurrent cycles; callers serialize whole
// cycles around it.
package loop

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/gate"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
)

// #region config
const (
	DefaultCommitmentID       = "default"
	DefaultCommitmentPromise  = "Publish public milestone check-ins"
	DefaultCommitmentDueYears = 5.0
)

var planKeywords = []string{"plan", "roadmap", "phase", "deploy", "invest"}

// Pillars are the fixed narrative pillars of every outline.
var Pillars = []string{
	"Coherence-first reasoning with audit trail",
	"Energy-aware and circular-by-default planning",
	"Temporal duties and milestones with public check-ins",
}

const writerInstruction = "Rewrite the plan below as a clear, phased answer. " +
	"Keep every pillar and the scores line. State assumptions and safe next steps."

// Config holds loop-wide settings.
type Config struct {
	SystemID       string             `yaml:"system_id"`
	Gate           gate.GateConfig    `yaml:"gate"`
	DefaultAnchors map[string]float64 `yaml:"anchors"`
}

// DefaultConfig returns the reference anchors and gate thresholds.
func DefaultConfig() Config {
	return Config{
		SystemID: "metacog-core",
		Gate:     gate.DefaultGateConfig(),
		DefaultAnchors: map[string]float64{
			memory.AnchorReciprocity:  0.8,
			memory.AnchorCircularity:  0.75,
			memory.AnchorTransparency: 0.85,
		},
	}
}

// #endregion config

// #region loop
// Loop owns one memory store and one gate and borrows a text producer.
type Loop struct {
	config   Config
	memory   *memory.Store
	gate     *gate.Gate
	ledger   *audit.Ledger
	producer producer.TextProducer
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithMemory uses an existing store, e.g. one restored from a snapshot.
func WithMemory(m *memory.Store) Option {
	return func(l *Loop) { l.memory = m }
}

// WithLedger records gate decisions into an existing ledger.
func WithLedger(ledger *audit.Ledger) Option {
	return func(l *Loop) { l.ledger = ledger }
}

// WithLogger sets the loop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger.Named("loop")
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a loop around p. Missing default anchors are seeded into the
// store so that snapshots always show the values harmonize reads.
func New(config Config, p producer.TextProducer, opts ...Option) *Loop {
	if config.DefaultAnchors == nil {
		config.DefaultAnchors = DefaultConfig().DefaultAnchors
	}
	l := &Loop{
		config:   config,
		producer: p,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.memory == nil {
		l.memory = memory.NewStore()
	}
	l.gate = gate.NewGate(config.Gate, l.ledger, l.logger)
	l.seedAnchors()
	return l
}

func (l *Loop) seedAnchors() {
	missing := make(map[string]float64)
	for name, v := range l.config.DefaultAnchors {
		if _, ok := l.memory.Anchor(name); !ok {
			missing[name] = metric.Unit(v)
		}
	}
	if len(missing) > 0 {
		_ = l.memory.SetAnchors(missing)
	}
}

// SystemID returns the owning system identifier.
func (l *Loop) SystemID() string { return l.config.SystemID }

// Memory exposes the store for adapters that write anchors.
func (l *Loop) Memory() *memory.Store { return l.memory }

// Gate exposes the ethical gate.
func (l *Loop) Gate() *gate.Gate { return l.gate }

// AuditLog returns a read-only snapshot of gate decisions.
func (l *Loop) AuditLog() []audit.Entry { return l.gate.AuditLog() }

// MemorySnapshot returns a detached copy of every memory stratum.
func (l *Loop) MemorySnapshot() memory.Snapshot { return l.memory.Snapshot() }

// Anchor reads a semantic anchor, falling back to the configured default.
func (l *Loop) Anchor(name string) float64 {
	return l.memory.AnchorOr(name, l.config.DefaultAnchors[name])
}

// #endregion loop

// #region perceive
// Perceive normalizes raw inputs into an Observation. Only "query" and
// "hint" contribute to the text features.
func (l *Loop) Perceive(inputs, contextData map[string]any) Observation {
	text := textOf(inputs["query"]) + " " + textOf(inputs["hint"])
	lower := strings.ToLower(text)

	signal := 0.4
	if utf8.RuneCountInString(strings.TrimSpace(text)) > 24 {
		signal = 1.0
	}
	intent := 0.2
	for _, w := range planKeywords {
		if strings.Contains(lower, w) {
			intent = 1.0
			break
		}
	}
	urgency := 0.4
	if strings.Contains(lower, "urgent") {
		urgency = 1.0
	}

	return Observation{
		Timestamp: l.now(),
		SystemID:  l.config.SystemID,
		Inputs:    copyAny(inputs),
		Context:   copyAny(contextData),
		Features: map[string]float64{
			FeatureSignalQuality: signal,
			FeatureIntentPlan:    intent,
			FeatureUrgency:       urgency,
		},
		Provenance: []string{TagPerceiveText, TagPerceiveFeatures},
	}
}

// #endregion perceive

// #region harmonize
// Harmonize merges the observation with semantic anchors and commitments to
// produce the score triple.
func (l *Loop) Harmonize(obs Observation) Outline {
	reciprocity := l.Anchor(memory.AnchorReciprocity)
	circularity := l.Anchor(memory.AnchorCircularity)
	transparency := l.Anchor(memory.AnchorTransparency)

	kappa := metric.Alignment(featureOr(obs, FeatureSignalQuality, 0.5), reciprocity, circularity)
	tau := metric.Responsibility(l.memory.MaxDueYears(), l.memory.ObligationsMetRatio())
	sigma := metric.Drift(
		0.2+0.6*featureOr(obs, FeatureUrgency, 0),
		1-transparency,
		0.5*(1-circularity),
	)

	premise := obs.Query()
	if premise == "" {
		premise = "No query given."
	}
	return Outline{
		Premise:    premise,
		Pillars:    append([]string(nil), Pillars...),
		Scores:     metric.Scores{Kappa: kappa, Tau: tau, Sigma: sigma},
		Provenance: []string{TagHarmonizeValues, TagHarmonizeScores},
	}
}

// #endregion harmonize

// #region expand
// Expand derives a fresh observation and outline from goal and the "note"
// hint, then runs ExpandFrom.
func (l *Loop) Expand(ctx context.Context, goal string, hints map[string]any) (Action, error) {
	obs := l.Perceive(map[string]any{"query": goal, "hint": textOf(hints["note"])}, hints)
	return l.ExpandFrom(ctx, obs, l.Harmonize(obs))
}

// ExpandFrom produces an Action from state the caller already holds. On a
// producer failure nothing is recorded and a *ProducerError is returned.
func (l *Loop) ExpandFrom(ctx context.Context, obs Observation, outline Outline) (Action, error) {
	scores, err := l.checkScores(outline.Scores)
	if err != nil {
		return Action{}, fmt.Errorf("expand: %w", err)
	}
	goal := obs.Query()

	messages := []producer.Message{
		{Role: producer.RoleSystem, Content: writerInstruction},
		{Role: producer.RoleUser, Content: renderBrief(goal, outline.Pillars, scores)},
	}
	draft, err := l.producer.ProduceText(ctx, messages)
	if err != nil {
		l.logger.Warn("producer failed", zap.String("goal", goal), zap.Error(err))
		return Action{}, &ProducerError{Err: err}
	}

	decision := l.gate.Evaluate(obs.Features, draft, scores)
	content := draft
	if len(decision.Notes) > 0 {
		content += "\n\nRevision Notes:\n" + formatNotes(decision.Notes)
	}

	l.memory.AddEpisode(memory.Episode{
		Timestamp: obs.Timestamp,
		Features:  obs.Features,
		Summary:   "Produced plan for: " + goal,
	})
	if !l.memory.HasCommitment(DefaultCommitmentID) {
		if err := l.memory.RecordCommitment(DefaultCommitmentID, DefaultCommitmentPromise, DefaultCommitmentDueYears); err != nil {
			l.logger.Warn("default commitment not recorded", zap.Error(err))
		}
	}

	provenance := make([]string, 0, len(obs.Provenance)+len(outline.Provenance)+2)
	provenance = append(provenance, obs.Provenance...)
	provenance = append(provenance, outline.Provenance...)
	provenance = append(provenance, TagExpandWriter, TagExpandGate)

	action := Action{
		Timestamp:  l.now(),
		SystemID:   l.config.SystemID,
		Content:    content,
		Scores:     scores,
		Incentives: Incentives(scores),
		Provenance: provenance,
		Verdict:    decision.Verdict,
		Notes:      decision.Notes,
	}

	l.logger.Debug("expanded",
		zap.String("goal", goal),
		zap.String("verdict", string(decision.Verdict)),
		zap.Float64("kappa", scores.Kappa),
		zap.Float64("tau", scores.Tau),
		zap.Float64("sigma", scores.Sigma),
	)
	return action, nil
}

// Incentives derives the three instrument signals from a score triple.
func Incentives(s metric.Scores) map[string]float64 {
	return map[string]float64{
		IncentiveCCE: 100 * s.Kappa * s.Tau,
		IncentiveCRB: 20 * math.Max(0, s.Kappa-s.Sigma),
		IncentiveTEB: 50 + 450*s.Tau,
	}
}

// checkScores applies the memory store's strictness to caller-supplied scores.
func (l *Loop) checkScores(s metric.Scores) (metric.Scores, error) {
	v := metric.Validator{Strict: l.memory.Strict()}
	var err error
	if s.Kappa, err = v.CheckUnit("kappa", s.Kappa); err != nil {
		return s, err
	}
	if s.Tau, err = v.CheckUnit("tau", s.Tau); err != nil {
		return s, err
	}
	if s.Sigma, err = v.CheckUnit("sigma", s.Sigma); err != nil {
		return s, err
	}
	return s, nil
}

// #endregion expand

// #region helpers
func renderBrief(goal string, pillars []string, s metric.Scores) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", goal)
	b.WriteString("Coherent plan (perceive, harmonize, expand):\n")
	b.WriteString("1) Perception: unify inputs, clarify constraints and surface hidden costs.\n")
	b.WriteString("2) Harmonic integration: align with reciprocity, circularity and long-horizon duties.\n")
	b.WriteString("3) Expansion: produce steps, commit milestones and open the audit trail.\n\n")
	b.WriteString("Pillars:\n")
	for _, p := range pillars {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	fmt.Fprintf(&b, "\nScores: kappa=%.2f tau=%.2f sigma=%.2f", s.Kappa, s.Tau, s.Sigma)
	return b.String()
}

func formatNotes(notes []audit.Note) string {
	lines := make([]string, len(notes))
	for i, n := range notes {
		lines[i] = "- " + n.Text
	}
	return strings.Join(lines, "\n")
}

func featureOr(obs Observation, name string, def float64) float64 {
	if v, ok := obs.Features[name]; ok {
		return v
	}
	return def
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func copyAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// #endregion helpers
