package audit

import (
	"time"

	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
)

// #region verdict
// Verdict is the gate's classification of one draft.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictRevise Verdict = "revise"
	VerdictBlock  Verdict = "block"
)

// #endregion verdict

// #region note
// NoteKind separates notes that block a draft from notes that only advise.
type NoteKind string

const (
	NoteBlocking NoteKind = "blocking"
	NoteAdvisory NoteKind = "advisory"
)

// Note is one finding recorded against a draft.
type Note struct {
	Kind NoteKind `json:"kind"`
	Code string   `json:"code"`
	Text string   `json:"text"`
}

// Blocking reports whether the note forces a failed verdict.
func (n Note) Blocking() bool {
	return n.Kind == NoteBlocking
}

// #endregion note

// #region entry
// Entry is one append-only ledger row describing a gate decision.
type Entry struct {
	Seq           int64              `json:"seq"`
	Timestamp     time.Time          `json:"timestamp"`
	Features      map[string]float64 `json:"features"`
	ContentLength int                `json:"content_length"`
	Scores        metric.Scores      `json:"scores"`
	Verdict       Verdict            `json:"verdict"`
	Notes         []Note             `json:"notes"`
}

// clone returns a deep copy so callers never share maps or slices with the ledger.
func (e Entry) clone() Entry {
	out := e
	if e.Features != nil {
		out.Features = make(map[string]float64, len(e.Features))
		for k, v := range e.Features {
			out.Features[k] = v
		}
	}
	if e.Notes != nil {
		out.Notes = append([]Note(nil), e.Notes...)
	}
	return out
}

// #endregion entry
