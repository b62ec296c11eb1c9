package memory

import (
	"errors"
	"time"
)

// #region anchor-names
// Well-known semantic anchors read by harmonization.
const (
	AnchorReciprocity  = "reciprocity"
	AnchorCircularity  = "circularity"
	AnchorTransparency = "transparency"
)

// Well-known semantic labels.
const (
	LabelValueLock  = "value_lock_profile"
	LabelReflection = "reflection_mode"
)

// #endregion anchor-names

// #region errors
var (
	// ErrUnknownCommitment is returned by a strict store when updating an id it never recorded.
	ErrUnknownCommitment = errors.New("unknown commitment")

	// ErrCommitmentExists is returned when recording an id that is already present.
	ErrCommitmentExists = errors.New("commitment already exists")
)

// #endregion errors

// #region episode
// Episode is one entry of the append-only episodic log.
type Episode struct {
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
	Summary   string             `json:"summary"`
}

// #endregion episode

// #region commitment
// Commitment is a tracked promise with a due horizon and a fulfillment ratio.
type Commitment struct {
	ID        string    `json:"id"`
	Promise   string    `json:"promise"`
	DueYears  float64   `json:"due_years"`
	Kept      float64   `json:"kept"`
	CreatedAt time.Time `json:"created_at"`
}

// #endregion commitment

// #region snapshot
// Semantic is the anchor table plus free-form labels. Version increments on
// every write to either map.
type Semantic struct {
	Anchors map[string]float64 `json:"anchors"`
	Labels  map[string]string  `json:"labels"`
	Version uint64             `json:"version"`
}

// Snapshot is a detached copy of all three strata.
type Snapshot struct {
	Episodic    []Episode    `json:"episodic"`
	Semantic    Semantic     `json:"semantic"`
	Commitments []Commitment `json:"commitments"`
}

// #endregion snapshot
