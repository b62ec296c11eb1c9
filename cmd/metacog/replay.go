package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/metacog/go-controller/internal/replay"
)

var replayJSON bool

var replayCmd = &cobra.Command{
	Use:   "replay <fixture.json>",
	Short: "Replay a recorded fixture and compare verdicts",
	Long: `Runs every interaction of a JSON fixture through a fresh in-memory
session with the template producer. Exits non-zero when any verdict differs
from the fixture's expected results.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "output results as JSON")
}

// #region fixture-mode
func runReplay(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	results, summary, err := replay.Replay(cmd.Context(), f)
	if err != nil {
		return err
	}
	mismatches := replay.Compare(results, f.ExpectedResults)

	if replayJSON {
		if err := printJSON(out, map[string]any{"results": results, "summary": summary}); err != nil {
			return err
		}
	} else {
		if f.Description != "" {
			fmt.Fprintf(out, "%s\n\n", f.Description)
		}
		fmt.Fprintf(out, "%-10s  %-7s  %6s  %6s  %6s  %12s\n", "Turn", "Verdict", "Kappa", "Tau", "Sigma", "Transparency")
		for _, r := range results {
			fmt.Fprintf(out, "%-10s  %-7s  %6.3f  %6.3f  %6.3f  %12.3f\n",
				r.TurnID, r.Verdict, r.Scores.Kappa, r.Scores.Tau, r.Scores.Sigma, r.Transparency)
		}
		fmt.Fprintf(out, "\nturns=%d pass=%d revise=%d block=%d episodes=%d obligations_met=%.2f\n",
			summary.TotalTurns, summary.Passes, summary.Revisions, summary.Blocks,
			summary.Episodes, summary.ObligationsMet)
	}

	if len(f.ExpectedResults) == 0 {
		return nil
	}
	for _, m := range mismatches {
		fmt.Fprintf(cmd.ErrOrStderr(), "MISMATCH %s\n", m)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d of %d turns differ from the fixture", len(mismatches), len(f.ExpectedResults))
	}
	fmt.Fprintln(out, "all verdicts match")
	return nil
}

// #endregion fixture-mode
