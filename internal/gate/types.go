package gate

import "github.com/danielpatrickdp/metacog/go-controller/internal/audit"

// #region note-codes
// Note codes emitted by the gate.
const (
	CodeHighDrift         = "high_drift"
	CodeLowAlignment      = "low_alignment"
	CodeLowResponsibility = "low_responsibility"
)

// Note texts, stable for callers that render them into content.
const (
	TextHighDrift         = "blocked: high drift risk"
	TextLowAlignment      = "revise: low alignment"
	TextLowResponsibility = "revise: insufficient responsibility"
)

// #endregion note-codes

// #region gate-config
// GateConfig holds the threshold policy for gate decisions.
type GateConfig struct {
	MaxDrift          float64 `yaml:"max_drift" json:"max_drift"`                   // sigma above this blocks
	MinAlignment      float64 `yaml:"min_alignment" json:"min_alignment"`           // kappa below this advises revision
	MinResponsibility float64 `yaml:"min_responsibility" json:"min_responsibility"` // tau below this advises revision
}

// DefaultGateConfig returns the reference thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxDrift:          0.65,
		MinAlignment:      0.35,
		MinResponsibility: 0.30,
	}
}

// #endregion gate-config

// #region gate-decision
// Decision is the output of one gate evaluation.
type Decision struct {
	Passed  bool
	Verdict audit.Verdict
	Notes   []audit.Note
}

// Blocking returns only the blocking notes.
func (d Decision) Blocking() []audit.Note {
	return filterNotes(d.Notes, audit.NoteBlocking)
}

// Advisory returns only the advisory notes.
func (d Decision) Advisory() []audit.Note {
	return filterNotes(d.Notes, audit.NoteAdvisory)
}

func filterNotes(notes []audit.Note, kind audit.NoteKind) []audit.Note {
	var out []audit.Note
	for _, n := range notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// #endregion gate-decision
