package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/field"
	"github.com/danielpatrickdp/metacog/go-controller/internal/logging"
	"github.com/danielpatrickdp/metacog/go-controller/internal/session"
)

var (
	inspectSession string
	inspectLast    int
	inspectJSON    bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print stored sessions, their state and audit log",
	Long: `Without --session, lists stored sessions. With --session, prints the
session's anchors, commitments, self model and gate decisions. On SQLite the
decisions are read from the audit_log table.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectSession, "session", "s", "", "session id to show")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent decisions")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of tables")
}

// #region main
func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.release()
	out := cmd.OutOrStdout()

	if inspectSession == "" {
		ids, err := a.store.List(ctx)
		if err != nil {
			return err
		}
		if inspectJSON {
			return printJSON(out, ids)
		}
		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "no sessions found")
			return nil
		}
		for i, id := range ids {
			fmt.Fprintf(out, "  %d. %s\n", i+1, id)
		}
		fmt.Fprintf(out, "Total: %d sessions\n", len(ids))
		return nil
	}

	s, err := a.registry.Load(ctx, inspectSession)
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("no stored session %q", inspectSession)
	}
	if err != nil {
		return err
	}
	st := s.State()

	entries := st.Audit
	if sq, ok := a.store.(*session.SQLiteStore); ok {
		recs, err := logging.ReadVerdicts(ctx, sq.DB(), inspectSession)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			if entries, err = entriesFromRecords(recs); err != nil {
				return err
			}
		}
	}
	if inspectLast > 0 && len(entries) > inspectLast {
		entries = entries[len(entries)-inspectLast:]
	}

	if inspectJSON {
		st.Audit = entries
		return printJSON(out, st)
	}
	printState(out, st, cfg.Field)
	printAudit(out, entries)
	return nil
}

// #endregion main

// #region output
func entriesFromRecords(recs []logging.AuditRecord) ([]audit.Entry, error) {
	out := make([]audit.Entry, 0, len(recs))
	for _, r := range recs {
		e, err := r.Entry()
		if err != nil {
			return nil, fmt.Errorf("audit record %s/%d: %w", r.SessionID, r.Seq, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func printState(out io.Writer, st session.State, fc field.FieldConfig) {
	fmt.Fprintf(out, "Session:     %s\n", st.SessionID)
	fmt.Fprintf(out, "Created:     %s\n", st.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(out, "Runs:        %d (failures %d, reflections %d)\n",
		st.Stats.Runs, st.Stats.Failures, st.Stats.Reflections)
	fmt.Fprintf(out, "Coherence:   %.2f (last verdict %s)\n", st.Stats.LastCoherence, st.Stats.LastVerdict)

	kappas := make([]float64, len(st.Audit))
	for i, e := range st.Audit {
		kappas[i] = e.Scores.Kappa
	}
	fmt.Fprintf(out, "Field:       %s\n", glyphOf(kappas, fc))
	if st.Stats.LastContent != "" {
		r := field.Analyze(st.Stats.LastContent, pillarKeywords())
		fmt.Fprintf(out, "Analysis:    overall=%.2f kappa=%.2f phase=%.2f omega=%.2f flag=%s\n",
			r.Overall, r.Kappa, r.DeltaPhi, r.Omega, r.Flag)
	}

	fmt.Fprintln(out, "\nAnchors:")
	names := make([]string, 0, len(st.Memory.Semantic.Anchors))
	for name := range st.Memory.Semantic.Anchors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-14s %.4f\n", name, st.Memory.Semantic.Anchors[name])
	}

	if len(st.Memory.Commitments) > 0 {
		fmt.Fprintln(out, "\nCommitments:")
		for _, c := range st.Memory.Commitments {
			fmt.Fprintf(out, "  %-10s due=%.1fy kept=%.2f  %s\n", c.ID, c.DueYears, c.Kept, c.Promise)
		}
	}

	fmt.Fprintln(out, "\nSelf model:")
	caps := make([]string, 0, len(st.SelfModel.Capabilities))
	for name := range st.SelfModel.Capabilities {
		caps = append(caps, name)
	}
	sort.Strings(caps)
	for _, name := range caps {
		fmt.Fprintf(out, "  %-14s %.2f\n", name, st.SelfModel.Capabilities[name])
	}
	if st.SelfModel.ValueLock != "" {
		fmt.Fprintf(out, "  value lock     %s\n", st.SelfModel.ValueLock)
	}
	if len(st.SelfModel.Goals) > 0 {
		fmt.Fprintf(out, "  goals          %s\n", strings.Join(st.SelfModel.Goals, ", "))
	}
}

func printAudit(out io.Writer, entries []audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "\nno gate decisions")
		return
	}
	fmt.Fprintf(out, "\n%5s  %-7s  %6s  %6s  %6s  %7s  %s\n", "Seq", "Verdict", "Kappa", "Tau", "Sigma", "Length", "Notes")
	fmt.Fprintf(out, "%5s+-%-7s+-%6s+-%6s+-%6s+-%7s+-%s\n", "-----", "-------", "------", "------", "------", "-------", "--------")
	for _, e := range entries {
		notes := make([]string, len(e.Notes))
		for i, n := range e.Notes {
			notes[i] = n.Text
		}
		fmt.Fprintf(out, "%5d  %-7s  %6.3f  %6.3f  %6.3f  %7d  %s\n",
			e.Seq, e.Verdict, e.Scores.Kappa, e.Scores.Tau, e.Scores.Sigma, e.ContentLength, strings.Join(notes, "; "))
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion output
