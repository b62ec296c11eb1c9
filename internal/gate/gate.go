package gate

import (
	"go.uber.org/zap"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
)

// #region gate
// Gate applies threshold policy to a scored draft and records every decision
// in its audit ledger. It observes scores and never alters them.
type Gate struct {
	config GateConfig
	ledger *audit.Ledger
	logger *zap.Logger
}

// NewGate creates a gate writing to ledger. A nil ledger gets a fresh one.
func NewGate(config GateConfig, ledger *audit.Ledger, logger *zap.Logger) *Gate {
	if ledger == nil {
		ledger = audit.NewLedger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{config: config, ledger: ledger, logger: logger}
}

// Config returns the active thresholds.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Evaluate checks the blocking rule first, then the advisory rules, and
// appends exactly one ledger entry describing the outcome.
func (g *Gate) Evaluate(features map[string]float64, draft string, scores metric.Scores) Decision {
	var notes []audit.Note

	// --- Blocking pass ---
	if scores.Sigma > g.config.MaxDrift {
		notes = append(notes, audit.Note{
			Kind: audit.NoteBlocking,
			Code: CodeHighDrift,
			Text: TextHighDrift,
		})
	}

	// --- Advisory pass ---
	if scores.Kappa < g.config.MinAlignment {
		notes = append(notes, audit.Note{
			Kind: audit.NoteAdvisory,
			Code: CodeLowAlignment,
			Text: TextLowAlignment,
		})
	}
	if scores.Tau < g.config.MinResponsibility {
		notes = append(notes, audit.Note{
			Kind: audit.NoteAdvisory,
			Code: CodeLowResponsibility,
			Text: TextLowResponsibility,
		})
	}

	decision := Decision{
		Passed:  !hasBlocking(notes),
		Verdict: verdictFor(notes),
		Notes:   notes,
	}

	entry := g.ledger.Append(audit.Entry{
		Features:      features,
		ContentLength: len(draft),
		Scores:        scores,
		Verdict:       decision.Verdict,
		Notes:         notes,
	})

	g.logger.Debug("gate evaluated",
		zap.Int64("seq", entry.Seq),
		zap.String("verdict", string(decision.Verdict)),
		zap.Float64("kappa", scores.Kappa),
		zap.Float64("tau", scores.Tau),
		zap.Float64("sigma", scores.Sigma),
		zap.Int("notes", len(notes)),
	)

	return decision
}

// AuditLog returns a read-only snapshot of every recorded decision.
func (g *Gate) AuditLog() []audit.Entry {
	return g.ledger.Snapshot()
}

// Ledger exposes the underlying ledger.
func (g *Gate) Ledger() *audit.Ledger {
	return g.ledger
}

// #endregion gate

// #region helpers
func hasBlocking(notes []audit.Note) bool {
	for _, n := range notes {
		if n.Blocking() {
			return true
		}
	}
	return false
}

func verdictFor(notes []audit.Note) audit.Verdict {
	switch {
	case hasBlocking(notes):
		return audit.VerdictBlock
	case len(notes) > 0:
		return audit.VerdictRevise
	default:
		return audit.VerdictPass
	}
}

// #endregion helpers
