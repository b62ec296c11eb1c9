// Package session binds one self-model adapter, loop and memory store per
// session id, serializes whole cycles per session and persists state through
// a KVStore.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/field"
	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
	"github.com/danielpatrickdp/metacog/go-controller/internal/selfmodel"
)

// #region observer
// Observer receives cycle outcomes, e.g. for metrics.
type Observer interface {
	ObserveAction(a loop.Action, episodes int)
	ObserveFailure(err error)
	ObserveChat(coherence float64, reflections int)
}

type nopObserver struct{}

func (nopObserver) ObserveAction(loop.Action, int) {}
func (nopObserver) ObserveFailure(error)           {}
func (nopObserver) ObserveChat(float64, int)       {}

// #endregion observer

// #region session
// Session owns the state of one logical conversation. Every mutating call
// holds the session lock for the whole perceive-to-reflect cycle.
type Session struct {
	id        string
	createdAt time.Time
	observer  Observer

	mu      sync.Mutex
	adapter *selfmodel.Adapter
	stats   Stats
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was first created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Run executes one adapter cycle.
func (s *Session) Run(ctx context.Context, query string, hints map[string]any) (loop.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(ctx, query, hints)
}

// Expand runs the loop's expand phase without the adapter's vigilance and
// reflection steps.
func (s *Session) Expand(ctx context.Context, goal string, hints map[string]any) (loop.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.adapter.Loop().Expand(ctx, goal, hints)
	s.record(a, err)
	return a, err
}

// Harmonize perceives inputs and harmonizes them without producing text.
func (s *Session) Harmonize(inputs map[string]any) (loop.Observation, loop.Outline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.adapter.Loop()
	obs := l.Perceive(inputs, nil)
	return obs, l.Harmonize(obs)
}

// Configure runs fn against the adapter under the session lock.
func (s *Session) Configure(fn func(a *selfmodel.Adapter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.adapter)
}

// AuditLog returns a read-only snapshot of gate decisions.
func (s *Session) AuditLog() []audit.Entry {
	return s.adapter.Loop().AuditLog()
}

// MemorySnapshot returns a detached copy of every memory stratum.
func (s *Session) MemorySnapshot() memory.Snapshot {
	return s.adapter.Loop().MemorySnapshot()
}

// SelfModel returns the adapter's self model.
func (s *Session) SelfModel() selfmodel.SelfModel {
	return s.adapter.SelfModel()
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// State captures a consistent envelope between cycles.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.adapter.Loop()
	return State{
		SessionID: s.id,
		CreatedAt: s.createdAt,
		Memory:    l.MemorySnapshot(),
		Audit:     l.AuditLog(),
		SelfModel: s.adapter.SelfModel(),
		Stats:     s.stats,
	}
}

func (s *Session) runLocked(ctx context.Context, query string, hints map[string]any) (loop.Action, error) {
	a, err := s.adapter.Run(ctx, query, hints)
	s.record(a, err)
	return a, err
}

func (s *Session) record(a loop.Action, err error) {
	if err != nil {
		s.stats.Failures++
		s.observer.ObserveFailure(err)
		return
	}
	s.stats.Runs++
	s.stats.LastVerdict = a.Verdict
	s.stats.LastContent = a.Content
	s.observer.ObserveAction(a, s.adapter.Loop().Memory().EpisodeCount())
}

// #endregion session

// #region chat
// Policy tunes the chat critique loop.
type Policy struct {
	MinCoherence   float64 `yaml:"min_coherence"`
	MaxReflections int     `yaml:"max_reflections"`
	CritiqueNote   string  `yaml:"critique_note"`
}

// DefaultPolicy re-runs at most twice while coherence stays under 0.45.
func DefaultPolicy() Policy {
	return Policy{
		MinCoherence:   0.45,
		MaxReflections: 2,
		CritiqueNote:   "critique: improve clarity, factuality and structure",
	}
}

// ChatResult is the outcome of one chat exchange.
type ChatResult struct {
	SessionID   string      `json:"session_id"`
	Action      loop.Action `json:"action"`
	Coherence   float64     `json:"coherence"`
	Reflections int         `json:"reflections"`
}

func (s *Session) chat(ctx context.Context, query string, hints map[string]any, p Policy) (ChatResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, err := s.runLocked(ctx, query, hints)
	if err != nil {
		return ChatResult{}, err
	}
	coherence := field.ScoreText(action.Content)
	reflections := 0

	for coherence < p.MinCoherence && reflections < p.MaxReflections {
		critique := make(map[string]any, len(hints)+1)
		for k, v := range hints {
			critique[k] = v
		}
		critique["note"] = p.CritiqueNote

		if action, err = s.runLocked(ctx, query, critique); err != nil {
			return ChatResult{}, err
		}
		coherence = field.ScoreText(action.Content)
		reflections++
	}

	s.stats.LastCoherence = coherence
	s.stats.Reflections += reflections
	return ChatResult{
		SessionID:   s.id,
		Action:      action,
		Coherence:   coherence,
		Reflections: reflections,
	}, nil
}

// #endregion chat
