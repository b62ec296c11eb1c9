package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/gate"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
)

func ptr(v float64) *float64 { return &v }

// helper: a fixture whose only commitment is long and fully kept.
func keptFixture(queries ...string) *Fixture {
	f := &Fixture{
		Commitments: []FixtureCommitment{
			{ID: "c1", Promise: "maintain the reservoir", DueYears: 10, KeptRatio: ptr(0.9)},
		},
	}
	for _, q := range queries {
		f.Interactions = append(f.Interactions, FixtureInteraction{Query: q})
	}
	return f
}

// 1. Defaults with a kept commitment pass every calm turn.
func TestReplay_DefaultsPass(t *testing.T) {
	f := keptFixture("Draft a ten year regional water plan", "Review the procurement roadmap")

	results, summary, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if summary.Passes != 2 {
		t.Fatalf("expected 2 passes, got %+v", summary)
	}
	for _, r := range results {
		if len(r.Notes) != 0 {
			t.Errorf("%s: unexpected notes %v", r.TurnID, r.Notes)
		}
	}
}

// Summary reports the mean kept ratio across every seeded commitment.
func TestReplay_SummaryObligationsMet(t *testing.T) {
	f := keptFixture("Draft a ten year regional water plan")
	f.Commitments = append(f.Commitments,
		FixtureCommitment{ID: "c2", Promise: "publish quarterly audits", DueYears: 2, KeptRatio: ptr(0.2)},
		FixtureCommitment{ID: "c3", Promise: "fund the wetland buffer", DueYears: 5},
	)

	_, summary, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	kept, audited := 0.9, 0.2
	want := (kept + audited + 0) / 3
	if summary.ObligationsMet != want {
		t.Fatalf("obligations met %v, want %v", summary.ObligationsMet, want)
	}
}

// 2. Turn ids default to turn-N.
func TestReplay_DefaultTurnIDs(t *testing.T) {
	results, _, err := Replay(context.Background(), keptFixture("a", "b", "c"))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for i, want := range []string{"turn-1", "turn-2", "turn-3"} {
		if results[i].TurnID != want {
			t.Errorf("result %d: turn id %s, want %s", i, results[i].TurnID, want)
		}
	}
}

// 3. No commitments means zero responsibility and a revise verdict.
func TestReplay_NoCommitmentsRevise(t *testing.T) {
	f := &Fixture{Interactions: []FixtureInteraction{{Query: "Draft a ten year regional water plan"}}}

	results, _, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	r := results[0]
	if r.Verdict != audit.VerdictRevise {
		t.Fatalf("expected revise, got %s", r.Verdict)
	}
	if len(r.Notes) != 1 || r.Notes[0].Code != gate.CodeLowResponsibility {
		t.Errorf("expected a single low-responsibility note, got %v", r.Notes)
	}
}

// 4. A tightened gate blocks what the default gate passes.
func TestReplay_GateOverride(t *testing.T) {
	f := keptFixture("Draft a ten year regional water plan")
	f.Config.Gate = &gate.GateConfig{MaxDrift: 0.1, MinAlignment: 0.35, MinResponsibility: 0.30}

	results, summary, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Verdict != audit.VerdictBlock || summary.Blocks != 1 {
		t.Errorf("expected block, got %s", results[0].Verdict)
	}
}

// 5. Strict fixtures reject kept updates for unknown commitments.
func TestReplay_StrictUnknownCommitment(t *testing.T) {
	f := keptFixture("anything")
	f.Config.Strict = true
	f.Interactions[0].Kept = map[string]float64{"ghost": 0.5}

	_, _, err := Replay(context.Background(), f)
	if !errors.Is(err, memory.ErrUnknownCommitment) {
		t.Fatalf("expected ErrUnknownCommitment, got %v", err)
	}
}

// 6. Lenient fixtures ignore them.
func TestReplay_LenientUnknownCommitment(t *testing.T) {
	f := keptFixture("anything")
	f.Interactions[0].Kept = map[string]float64{"ghost": 0.5}

	if _, _, err := Replay(context.Background(), f); err != nil {
		t.Fatalf("Replay: %v", err)
	}
}

// 7. Duplicate commitment ids fail the seed step.
func TestReplay_DuplicateCommitment(t *testing.T) {
	f := keptFixture("anything")
	f.Commitments = append(f.Commitments, f.Commitments[0])

	_, _, err := Replay(context.Background(), f)
	if !errors.Is(err, memory.ErrCommitmentExists) {
		t.Fatalf("expected ErrCommitmentExists, got %v", err)
	}
}

// 8. Continuous reflection nudges anchors after every turn.
func TestReplay_ContinuousReflection(t *testing.T) {
	f := keptFixture("one", "two")
	f.Config.ContinuousReflection = true

	results, _, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !(results[1].Transparency > results[0].Transparency && results[0].Transparency > 0.85) {
		t.Errorf("expected rising transparency above 0.85, got %f then %f",
			results[0].Transparency, results[1].Transparency)
	}
}

// 9. Cancelled contexts surface as producer errors.
func TestReplay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, _, err := Replay(ctx, keptFixture("anything"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Result{
		{Verdict: audit.VerdictPass},
		{Verdict: audit.VerdictRevise},
		{Verdict: audit.VerdictRevise},
		{Verdict: audit.VerdictBlock},
	})
	if s.TotalTurns != 4 || s.Passes != 1 || s.Revisions != 2 || s.Blocks != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestCompare(t *testing.T) {
	results := []Result{
		{TurnID: "t1", Verdict: audit.VerdictPass},
		{TurnID: "t2", Verdict: audit.VerdictRevise},
	}
	expected := []FixtureExpectedResult{
		{TurnID: "t1", Verdict: audit.VerdictPass},
		{TurnID: "t2", Verdict: audit.VerdictBlock},
		{TurnID: "t3", Verdict: audit.VerdictPass},
	}

	got := Compare(results, expected)
	if len(got) != 2 {
		t.Fatalf("expected 2 mismatches, got %v", got)
	}
	if got[0].TurnID != "t2" || got[0].Actual != audit.VerdictRevise {
		t.Errorf("unexpected first mismatch %+v", got[0])
	}
	if got[1].TurnID != "t3" || got[1].Actual != "" {
		t.Errorf("unexpected second mismatch %+v", got[1])
	}
	if len(Compare(results, expected[:1])) != 1 {
		t.Error("extra results must count as mismatches")
	}
}
