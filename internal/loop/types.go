package loop

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
)

// #region feature-names
const (
	FeatureSignalQuality = "signal_quality"
	FeatureIntentPlan    = "intent_plan"
	FeatureUrgency       = "urgency"
)

// Incentive keys on Action.Incentives.
const (
	IncentiveCCE = "CCE"
	IncentiveCRB = "CRB"
	IncentiveTEB = "TEB_yield_bps"
)

// Provenance tags, one per transform.
const (
	TagPerceiveText     = "perceive:normalized_text"
	TagPerceiveFeatures = "perceive:basic_features_v1"
	TagHarmonizeValues  = "harmonize:values_merge"
	TagHarmonizeScores  = "harmonize:coherence_scores_v1"
	TagExpandWriter     = "expand:writer_v1"
	TagExpandGate       = "expand:ethics_gate"
)

// #endregion feature-names

// #region observation
// Observation is the normalized result of one perceive call. It is never
// modified after construction.
type Observation struct {
	Timestamp  time.Time          `json:"timestamp"`
	SystemID   string             `json:"system_id"`
	Inputs     map[string]any     `json:"inputs"`
	Context    map[string]any     `json:"context"`
	Features   map[string]float64 `json:"features"`
	Provenance []string           `json:"provenance"`
}

// Query returns the "query" input as text.
func (o Observation) Query() string {
	return textOf(o.Inputs["query"])
}

// #endregion observation

// #region outline
// Outline is the transient result of harmonize.
type Outline struct {
	Premise    string        `json:"premise"`
	Pillars    []string      `json:"pillars"`
	Scores     metric.Scores `json:"scores"`
	Provenance []string      `json:"provenance"`
}

// #endregion outline

// #region action
// Action is the terminal artifact of one expand call. Ownership passes to
// the caller.
type Action struct {
	Timestamp  time.Time          `json:"timestamp"`
	SystemID   string             `json:"system_id"`
	Content    string             `json:"content"`
	Scores     metric.Scores      `json:"scores"`
	Incentives map[string]float64 `json:"incentives"`
	Provenance []string           `json:"provenance"`
	Verdict    audit.Verdict      `json:"verdict"`
	Notes      []audit.Note       `json:"notes,omitempty"`
}

// #endregion action

// #region errors
// ErrProducer marks a failure of the text-producing collaborator.
var ErrProducer = errors.New("text producer failed")

// ProducerError carries the collaborator's own error. It matches both
// ErrProducer and the wrapped cause under errors.Is.
type ProducerError struct {
	Err error
}

func (e *ProducerError) Error() string {
	return "expand: " + ErrProducer.Error() + ": " + e.Err.Error()
}

func (e *ProducerError) Unwrap() []error {
	return []error{ErrProducer, e.Err}
}

// #endregion errors
