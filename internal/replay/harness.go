// Package replay re-runs recorded interactions through a fresh in-memory
// session with the deterministic template producer and compares verdicts.
package replay

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
	"github.com/danielpatrickdp/metacog/go-controller/internal/selfmodel"
	"github.com/danielpatrickdp/metacog/go-controller/internal/session"
)

// #region types
// Result captures the outcome of replaying one interaction.
type Result struct {
	TurnID       string        `json:"turn_id"`
	Verdict      audit.Verdict `json:"verdict"`
	Notes        []audit.Note  `json:"notes,omitempty"`
	Scores       metric.Scores `json:"scores"`
	Transparency float64       `json:"transparency"` // anchor value after the turn
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	SessionID      string  `json:"session_id"`
	TotalTurns     int     `json:"total_turns"`
	Passes         int     `json:"passes"`
	Revisions      int     `json:"revisions"`
	Blocks         int     `json:"blocks"`
	Episodes       int     `json:"episodes"`
	ObligationsMet float64 `json:"obligations_met"`
}

// Mismatch is a turn whose verdict differs from the fixture expectation.
type Mismatch struct {
	Index    int
	TurnID   string
	Expected audit.Verdict
	Actual   audit.Verdict
}

func (m Mismatch) String() string {
	return fmt.Sprintf("turn %d (%s): expected %s, got %s", m.Index, m.TurnID, m.Expected, m.Actual)
}

// #endregion types

// #region replay
// Replay runs every interaction of f, in order, through one fresh session.
func Replay(ctx context.Context, f *Fixture) ([]Result, Summary, error) {
	reg := session.NewRegistry(producer.Template{},
		session.WithLoopConfig(f.Config.ToLoopConfig()),
		session.WithStrict(f.Config.Strict),
	)
	s, err := reg.Get(ctx, "replay-"+uuid.NewString())
	if err != nil {
		return nil, Summary{}, err
	}

	err = s.Configure(func(a *selfmodel.Adapter) error {
		if f.Config.ContinuousReflection {
			a.ActivateContinuousReflection()
		}
		mem := a.Loop().Memory()
		for _, c := range f.Commitments {
			if err := mem.RecordCommitment(c.ID, c.Promise, c.DueYears); err != nil {
				return err
			}
			if c.KeptRatio != nil {
				if err := mem.UpdateCommitment(c.ID, *c.KeptRatio); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, Summary{}, fmt.Errorf("seed commitments: %w", err)
	}

	results := make([]Result, 0, len(f.Interactions))
	for i, inter := range f.Interactions {
		turnID := inter.TurnID
		if turnID == "" {
			turnID = fmt.Sprintf("turn-%d", i+1)
		}

		if len(inter.Kept) > 0 {
			err := s.Configure(func(a *selfmodel.Adapter) error {
				for id, ratio := range inter.Kept {
					if err := a.Loop().Memory().UpdateCommitment(id, ratio); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return results, Summary{}, fmt.Errorf("%s: %w", turnID, err)
			}
		}

		action, err := s.Run(ctx, inter.Query, inter.Hints)
		if err != nil {
			return results, Summary{}, fmt.Errorf("%s: %w", turnID, err)
		}
		snap := s.MemorySnapshot()
		results = append(results, Result{
			TurnID:       turnID,
			Verdict:      action.Verdict,
			Notes:        action.Notes,
			Scores:       action.Scores,
			Transparency: snap.Semantic.Anchors[memory.AnchorTransparency],
		})
	}

	summary := Summarize(results)
	summary.SessionID = s.ID()
	summary.Episodes = len(s.MemorySnapshot().Episodic)

	_ = s.Configure(func(a *selfmodel.Adapter) error {
		summary.ObligationsMet = a.Loop().Memory().ObligationsMetRatio()
		return nil
	})
	return results, summary, nil
}

// Summarize counts verdicts.
func Summarize(results []Result) Summary {
	s := Summary{TotalTurns: len(results)}
	for _, r := range results {
		switch r.Verdict {
		case audit.VerdictPass:
			s.Passes++
		case audit.VerdictRevise:
			s.Revisions++
		case audit.VerdictBlock:
			s.Blocks++
		}
	}
	return s
}

// Compare lists turns whose verdict or turn id differs from expected. A length
// difference is reported as mismatches against the empty verdict.
func Compare(results []Result, expected []FixtureExpectedResult) []Mismatch {
	var out []Mismatch
	n := max(len(results), len(expected))
	for i := 0; i < n; i++ {
		var m Mismatch
		m.Index = i
		if i < len(expected) {
			m.TurnID = expected[i].TurnID
			m.Expected = expected[i].Verdict
		}
		if i < len(results) {
			if m.TurnID == "" {
				m.TurnID = results[i].TurnID
			}
			m.Actual = results[i].Verdict
			if i < len(expected) && results[i].TurnID != expected[i].TurnID {
				m.Actual = audit.Verdict(fmt.Sprintf("%s@%s", m.Actual, results[i].TurnID))
			}
		}
		if m.Expected != m.Actual {
			out = append(out, m)
		}
	}
	return out
}

// #endregion replay
