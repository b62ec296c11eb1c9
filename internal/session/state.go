package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
	"github.com/danielpatrickdp/metacog/go-controller/internal/selfmodel"
)

// Stats summarizes activity of one session.
type Stats struct {
	Runs          int           `json:"runs"`
	Failures      int           `json:"failures"`
	Reflections   int           `json:"reflections"`
	LastCoherence float64       `json:"last_coherence"`
	LastVerdict   audit.Verdict `json:"last_verdict,omitempty"`
	LastContent   string        `json:"last_content,omitempty"`
}

// State is the persisted envelope of one session.
type State struct {
	SessionID string              `json:"session_id"`
	VersionID string              `json:"version_id"`
	CreatedAt time.Time           `json:"created_at"`
	SavedAt   time.Time           `json:"saved_at"`
	Memory    memory.Snapshot     `json:"memory"`
	Audit     []audit.Entry       `json:"audit"`
	SelfModel selfmodel.SelfModel `json:"self_model"`
	Stats     Stats               `json:"stats"`
}

func encodeState(s State) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return b, nil
}

// DecodeState parses a stored envelope.
func DecodeState(payload []byte) (State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return s, nil
}
