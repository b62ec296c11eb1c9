// Package memory holds the three memory strata owned by one session: the
// episodic log, the semantic anchor table and the commitment ledger.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
)

// #region store-struct
// Store owns all three strata. Episodes are append-only, anchors are
// last-write-wins within [0,1], and commitments are never deleted.
type Store struct {
	mu sync.RWMutex

	episodic []Episode

	anchors map[string]float64
	labels  map[string]string
	version uint64

	commitments map[string]*Commitment
	order       []string

	validator metric.Validator
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithStrict rejects out-of-range values and unknown commitment ids instead of
// clamping or ignoring them.
func WithStrict(strict bool) Option {
	return func(s *Store) { s.validator.Strict = strict }
}

// WithClock overrides the time source used for commitment creation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		anchors:     make(map[string]float64),
		labels:      make(map[string]string),
		commitments: make(map[string]*Commitment),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strict reports whether the store rejects instead of clamping.
func (s *Store) Strict() bool {
	return s.validator.Strict
}

// #endregion store-struct

// #region episodic
// AddEpisode appends one entry to the episodic log.
func (s *Store) AddEpisode(ep Episode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep.Features = copyFloats(ep.Features)
	s.episodic = append(s.episodic, ep)
}

// EpisodeCount returns the episodic log length.
func (s *Store) EpisodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodic)
}

// #endregion episodic

// #region semantic
// SetAnchor writes one anchor value.
func (s *Store) SetAnchor(name string, value float64) error {
	v, err := s.validator.CheckUnit(name, value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[name] = v
	s.version++
	return nil
}

// SetAnchors writes several anchors as one versioned update. In strict mode
// nothing is written if any value is out of range.
func (s *Store) SetAnchors(values map[string]float64) error {
	checked := make(map[string]float64, len(values))
	for name, value := range values {
		v, err := s.validator.CheckUnit(name, value)
		if err != nil {
			return err
		}
		checked[name] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range checked {
		s.anchors[name] = v
	}
	s.version++
	return nil
}

// Anchor reads one anchor.
func (s *Store) Anchor(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.anchors[name]
	return v, ok
}

// AnchorOr reads one anchor, falling back to def when unset.
func (s *Store) AnchorOr(name string, def float64) float64 {
	if v, ok := s.Anchor(name); ok {
		return v
	}
	return def
}

// Anchors returns a copy of the anchor table.
func (s *Store) Anchors() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyFloats(s.anchors)
}

// SetLabel records a string-valued semantic entry.
func (s *Store) SetLabel(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[key] = value
	s.version++
}

// Label reads a string-valued semantic entry.
func (s *Store) Label(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.labels[key]
	return v, ok
}

// Version returns the semantic table version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// #endregion semantic

// #region commitments
// RecordCommitment creates a commitment with a zero fulfillment ratio.
func (s *Store) RecordCommitment(id, promise string, dueYears float64) error {
	if dueYears < 0 {
		if s.validator.Strict {
			return &metric.RangeError{Name: "due_years", Value: dueYears, Lo: 0, Hi: metric.MaxHorizonYears}
		}
		dueYears = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commitments[id]; ok {
		return fmt.Errorf("record %q: %w", id, ErrCommitmentExists)
	}
	s.commitments[id] = &Commitment{
		ID:        id,
		Promise:   promise,
		DueYears:  dueYears,
		CreatedAt: s.now(),
	}
	s.order = append(s.order, id)
	return nil
}

// UpdateCommitment sets the fulfillment ratio of an existing commitment.
// Unknown ids are ignored unless the store is strict.
func (s *Store) UpdateCommitment(id string, keptRatio float64) error {
	kept, err := s.validator.CheckUnit("kept_ratio", keptRatio)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		if s.validator.Strict {
			return fmt.Errorf("update %q: %w", id, ErrUnknownCommitment)
		}
		return nil
	}
	c.Kept = kept
	return nil
}

// HasCommitment reports whether id was ever recorded.
func (s *Store) HasCommitment(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.commitments[id]
	return ok
}

// Commitment returns a copy of one commitment.
func (s *Store) Commitment(id string) (Commitment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commitments[id]
	if !ok {
		return Commitment{}, false
	}
	return *c, true
}

// MaxDueYears returns the longest horizon across all commitments, or 0.
func (s *Store) MaxDueYears() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var longest float64
	for _, id := range s.order {
		c := s.commitments[id]
		if c.DueYears > longest {
			longest = c.DueYears
		}
	}
	return longest
}

// ObligationsMetRatio is the mean fulfillment ratio, or 0 with no commitments.
func (s *Store) ObligationsMetRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.commitments) == 0 {
		return 0
	}
	// Summed in creation order so repeated calls agree bit for bit.
	var sum float64
	for _, id := range s.order {
		sum += s.commitments[id].Kept
	}
	return sum / float64(len(s.order))
}

// #endregion commitments

// #region snapshot
// Snapshot returns a detached copy of every stratum. Commitments are listed in
// creation order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	episodes := make([]Episode, len(s.episodic))
	for i, ep := range s.episodic {
		ep.Features = copyFloats(ep.Features)
		episodes[i] = ep
	}

	commitments := make([]Commitment, 0, len(s.order))
	for _, id := range s.order {
		commitments = append(commitments, *s.commitments[id])
	}

	labels := make(map[string]string, len(s.labels))
	for k, v := range s.labels {
		labels[k] = v
	}

	return Snapshot{
		Episodic: episodes,
		Semantic: Semantic{
			Anchors: copyFloats(s.anchors),
			Labels:  labels,
			Version: s.version,
		},
		Commitments: commitments,
	}
}

// Restore rehydrates an empty store from a snapshot. Anchor and ratio values
// are clamped on the way in so a hand-edited snapshot cannot break the range
// invariants.
func (s *Store) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.episodic) > 0 || len(s.commitments) > 0 {
		return fmt.Errorf("restore: store is not empty")
	}

	for _, ep := range snap.Episodic {
		ep.Features = copyFloats(ep.Features)
		s.episodic = append(s.episodic, ep)
	}
	for k, v := range snap.Semantic.Anchors {
		s.anchors[k] = metric.Unit(v)
	}
	for k, v := range snap.Semantic.Labels {
		s.labels[k] = v
	}
	s.version = snap.Semantic.Version
	for _, c := range snap.Commitments {
		if _, dup := s.commitments[c.ID]; dup {
			continue
		}
		c.Kept = metric.Unit(c.Kept)
		cc := c
		s.commitments[c.ID] = &cc
		s.order = append(s.order, c.ID)
	}
	return nil
}

// #endregion snapshot

// #region helpers
func copyFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// #endregion helpers
