// Package audit keeps the append-only record of ethical gate decisions.
// Ordering is guaranteed in-process only; durability is left to an optional Sink.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// #region sink
// Sink receives a copy of every appended entry, e.g. for persistence.
type Sink interface {
	Record(entry Entry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(entry Entry) error

// Record calls f(entry).
func (f SinkFunc) Record(entry Entry) error {
	return f(entry)
}

// #endregion sink

// #region ledger
// Ledger is an append-only sequence of entries. Entries are never mutated or
// removed once appended.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq int64
	sink    Sink
	logger  *zap.Logger

	// sinkMu is taken before mu is released so the sink sees entries in
	// Seq order without holding mu during its I/O.
	sinkMu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSink forwards every appended entry to s.
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{nextSeq: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// #endregion ledger

// #region append
// Append stores a copy of entry, assigning its sequence number and, if unset,
// its timestamp. The stored entry is returned. Concurrent appends reach the
// sink in Seq order.
func (l *Ledger) Append(entry Entry) Entry {
	l.mu.Lock()
	stored := entry.clone()
	stored.Seq = l.nextSeq
	l.nextSeq++
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	l.entries = append(l.entries, stored)
	sink := l.sink
	if sink == nil {
		l.mu.Unlock()
		return stored.clone()
	}
	l.sinkMu.Lock()
	l.mu.Unlock()
	defer l.sinkMu.Unlock()

	if err := sink.Record(stored.clone()); err != nil {
		l.logger.Warn("audit sink failed", zap.Int64("seq", stored.Seq), zap.Error(err))
	}
	return stored.clone()
}

// #endregion append

// #region read
// Snapshot returns a deep copy of all entries in append order.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of appended entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// #endregion read

// #region restore
// Restore seeds an empty ledger with previously persisted entries. Sequence
// numbering continues after the highest restored Seq. It is a no-op on a
// ledger that already holds entries, so the append-only history is never
// rewritten.
func (l *Ledger) Restore(entries []Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) > 0 {
		return false
	}
	for _, e := range entries {
		c := e.clone()
		l.entries = append(l.entries, c)
		if c.Seq >= l.nextSeq {
			l.nextSeq = c.Seq + 1
		}
	}
	return true
}

// #endregion restore
