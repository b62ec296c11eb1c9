package logging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
)

// #region audit-record
// AuditRecord is a single row in the audit_log table.
type AuditRecord struct {
	SessionID     string
	Seq           int64
	Verdict       string // "pass" | "revise" | "block"
	Kappa         float64
	Tau           float64
	Sigma         float64
	ContentLength int
	FeaturesJSON  string
	NotesJSON     string
	CreatedAt     time.Time
}

// RecordFromEntry flattens a ledger entry for persistence.
func RecordFromEntry(sessionID string, e audit.Entry) (AuditRecord, error) {
	features, err := json.Marshal(e.Features)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("marshal features: %w", err)
	}
	notes := "[]"
	if len(e.Notes) > 0 {
		b, err := json.Marshal(e.Notes)
		if err != nil {
			return AuditRecord{}, fmt.Errorf("marshal notes: %w", err)
		}
		notes = string(b)
	}
	return AuditRecord{
		SessionID:     sessionID,
		Seq:           e.Seq,
		Verdict:       string(e.Verdict),
		Kappa:         e.Scores.Kappa,
		Tau:           e.Scores.Tau,
		Sigma:         e.Scores.Sigma,
		ContentLength: e.ContentLength,
		FeaturesJSON:  string(features),
		NotesJSON:     notes,
		CreatedAt:     e.Timestamp,
	}, nil
}

// Notes decodes NotesJSON.
func (r AuditRecord) Notes() ([]audit.Note, error) {
	var notes []audit.Note
	if r.NotesJSON == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(r.NotesJSON), &notes); err != nil {
		return nil, fmt.Errorf("unmarshal notes: %w", err)
	}
	return notes, nil
}

// Entry rebuilds the ledger entry a record was flattened from.
func (r AuditRecord) Entry() (audit.Entry, error) {
	notes, err := r.Notes()
	if err != nil {
		return audit.Entry{}, err
	}
	var features map[string]float64
	if r.FeaturesJSON != "" && r.FeaturesJSON != "null" {
		if err := json.Unmarshal([]byte(r.FeaturesJSON), &features); err != nil {
			return audit.Entry{}, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	return audit.Entry{
		Seq:           r.Seq,
		Timestamp:     r.CreatedAt,
		Features:      features,
		ContentLength: r.ContentLength,
		Scores:        metric.Scores{Kappa: r.Kappa, Tau: r.Tau, Sigma: r.Sigma},
		Verdict:       audit.Verdict(r.Verdict),
		Notes:         notes,
	}, nil
}

// #endregion audit-record
