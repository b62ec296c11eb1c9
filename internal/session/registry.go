package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
	"github.com/danielpatrickdp/metacog/go-controller/internal/selfmodel"
)

const saveConcurrency = 4

// #region registry
// Registry caches live sessions and loads or saves them through a KVStore.
// Distinct sessions share no mutable state.
type Registry struct {
	store      KVStore
	producer   producer.TextProducer
	loopConfig loop.Config
	strict     bool
	policy     Policy
	observer   Observer
	sinkFor    func(sessionID string) audit.Sink
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists sessions in store. The default is an in-process MemoryStore.
func WithStore(store KVStore) Option {
	return func(r *Registry) { r.store = store }
}

// WithLoopConfig sets the loop config for every new session.
func WithLoopConfig(c loop.Config) Option {
	return func(r *Registry) { r.loopConfig = c }
}

// WithStrict makes every session's memory reject out-of-range input.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// WithPolicy sets the chat critique policy.
func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithObserver reports cycle outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithAuditSink attaches a per-session sink to every session ledger.
func WithAuditSink(sinkFor func(sessionID string) audit.Sink) Option {
	return func(r *Registry) { r.sinkFor = sinkFor }
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry whose sessions all use p.
func NewRegistry(p producer.TextProducer, opts ...Option) *Registry {
	r := &Registry{
		producer:   p,
		loopConfig: loop.DefaultConfig(),
		policy:     DefaultPolicy(),
		observer:   nopObserver{},
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	return r
}

// Store returns the backing KV store.
func (r *Registry) Store() KVStore { return r.store }

// #endregion registry

// #region get
// Get returns the live session for id, loading it from the store or creating
// it when absent. An empty id creates a session with a fresh uuid.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	payload, found, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var st *State
	if found {
		decoded, err := DecodeState(payload)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		st = &decoded
	}

	s, err := r.build(id, st)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	r.logger.Debug("session opened", zap.String("session", id), zap.Bool("restored", found))
	return s, nil
}

// Load returns a stored session without creating one.
func (r *Registry) Load(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		return s, nil
	}
	_, found, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("load session %s: %w", id, ErrNotFound)
	}
	return r.Get(ctx, id)
}

func (r *Registry) build(id string, st *State) (*Session, error) {
	logger := r.logger.With(zap.String("session", id))

	mem := memory.NewStore(memory.WithStrict(r.strict))
	ledgerOpts := []audit.Option{audit.WithLogger(logger)}
	if r.sinkFor != nil {
		ledgerOpts = append(ledgerOpts, audit.WithSink(r.sinkFor(id)))
	}
	ledger := audit.NewLedger(ledgerOpts...)

	s := &Session{id: id, createdAt: r.now(), observer: r.observer}
	if st != nil {
		if err := mem.Restore(st.Memory); err != nil {
			return nil, fmt.Errorf("restore memory %s: %w", id, err)
		}
		ledger.Restore(st.Audit)
		s.createdAt = st.CreatedAt
		s.stats = st.Stats
	}

	l := loop.New(r.loopConfig, r.producer,
		loop.WithMemory(mem),
		loop.WithLedger(ledger),
		loop.WithLogger(logger),
	)
	s.adapter = selfmodel.NewAdapter(l, logger)
	if st != nil {
		s.adapter.RestoreSelfModel(st.SelfModel)
	}
	return s, nil
}

// #endregion get

// #region save
// Save persists one live session under a new version id.
func (r *Registry) Save(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("save session %s: %w", id, ErrNotFound)
	}

	st := s.State()
	st.VersionID = uuid.NewString()
	st.SavedAt = r.now()
	payload, err := encodeState(st)
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	if err := r.store.Put(ctx, id, payload); err != nil {
		return err
	}
	r.logger.Debug("session saved", zap.String("session", id), zap.String("version", st.VersionID))
	return nil
}

// SaveAll persists every live session concurrently and returns the first error.
func (r *Registry) SaveAll(ctx context.Context) error {
	ids := r.IDs()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(saveConcurrency)
	for _, id := range ids {
		g.Go(func() error { return r.Save(ctx, id) })
	}
	return g.Wait()
}

// IDs lists live session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset discards the live and stored state of id and starts it over.
func (r *Registry) Reset(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("reset session %s: %w", id, err)
	}
	s, err := r.build(id, nil)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	return s, nil
}

// Close releases the backing store without saving.
func (r *Registry) Close() error {
	return r.store.Close()
}

// #endregion save

// #region chat
// Chat runs one critique-loop exchange on session id and saves it.
func (r *Registry) Chat(ctx context.Context, id, query string, hints map[string]any) (ChatResult, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return ChatResult{}, err
	}
	res, err := s.chat(ctx, query, hints, r.policy)
	if err != nil {
		return ChatResult{}, err
	}
	r.observer.ObserveChat(res.Coherence, res.Reflections)
	if err := r.Save(ctx, s.ID()); err != nil {
		return res, err
	}
	return res, nil
}

// #endregion chat
