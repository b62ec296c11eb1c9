package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
)

// #region schema
// Schema creates the audit_log table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	verdict        TEXT NOT NULL,
	kappa          REAL NOT NULL,
	tau            REAL NOT NULL,
	sigma          REAL NOT NULL,
	content_length INTEGER NOT NULL,
	features_json  TEXT,
	notes_json     TEXT,
	created_at     TEXT NOT NULL,
	UNIQUE (session_id, seq)
);
`

// EnsureSchema applies Schema to db.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("migrate audit_log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-verdict
// LogVerdict writes one audit record. A duplicate (session_id, seq) is
// ignored so that re-flushing a ledger is harmless.
func LogVerdict(db *sql.DB, rec AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO audit_log (session_id, seq, verdict, kappa, tau, sigma, content_length, features_json, notes_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, seq) DO NOTHING`,
		rec.SessionID,
		rec.Seq,
		rec.Verdict,
		rec.Kappa,
		rec.Tau,
		rec.Sigma,
		rec.ContentLength,
		nullIfEmpty(rec.FeaturesJSON),
		nullIfEmpty(rec.NotesJSON),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log verdict: %w", err)
	}
	return nil
}

// Sink returns an audit.Sink persisting every appended entry of one session.
func Sink(db *sql.DB, sessionID string, logger *zap.Logger) audit.Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return audit.SinkFunc(func(e audit.Entry) error {
		rec, err := RecordFromEntry(sessionID, e)
		if err != nil {
			return err
		}
		if err := LogVerdict(db, rec); err != nil {
			return err
		}
		logger.Debug("verdict persisted", zap.String("session", sessionID), zap.Int64("seq", e.Seq))
		return nil
	})
}

// #endregion log-verdict

// #region read-verdicts
// ReadVerdicts returns the stored records of one session in sequence order.
// An empty sessionID returns every session.
func ReadVerdicts(ctx context.Context, db *sql.DB, sessionID string) ([]AuditRecord, error) {
	query := `SELECT session_id, seq, verdict, kappa, tau, sigma, content_length,
		COALESCE(features_json, ''), COALESCE(notes_json, ''), created_at
		FROM audit_log`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY session_id, seq`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec     AuditRecord
			created string
		)
		if err := rows.Scan(&rec.SessionID, &rec.Seq, &rec.Verdict, &rec.Kappa, &rec.Tau, &rec.Sigma,
			&rec.ContentLength, &rec.FeaturesJSON, &rec.NotesJSON, &created); err != nil {
			return nil, fmt.Errorf("scan audit_log: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion read-verdicts

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
