package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/logging"
	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
	"github.com/danielpatrickdp/metacog/go-controller/internal/selfmodel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// flat scores well under the default coherence threshold.
var flat = producer.Func(func(context.Context, []producer.Message) (string, error) {
	return strings.Repeat("plain words ", 100), nil
})

// crisp scores above it.
var crisp = producer.Func(func(context.Context, []producer.Message) (string, error) {
	return "A. B! C? D, E; F: G.", nil
})

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// #region kv
func TestKVStores(t *testing.T) {
	stores := map[string]KVStore{
		"memory": NewMemoryStore(),
		"sqlite": newSQLite(t),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, store.Put(ctx, "b", []byte(`{"v":1}`)))
			require.NoError(t, store.Put(ctx, "a", []byte(`{"v":2}`)))
			require.NoError(t, store.Put(ctx, "b", []byte(`{"v":3}`)))

			got, found, err := store.Get(ctx, "b")
			require.NoError(t, err)
			require.True(t, found)
			assert.JSONEq(t, `{"v":3}`, string(got))

			ids, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)

			require.NoError(t, store.Delete(ctx, "a"))
			require.NoError(t, store.Delete(ctx, "a"))
			ids, err = store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids)
		})
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("METACOG_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("METACOG_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	id := "test-" + uuid.NewString()
	defer func() { _ = store.Delete(ctx, id) }()

	require.NoError(t, store.Put(ctx, id, []byte(`{"runs":1}`)))
	got, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"runs":1}`, string(got))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

// #endregion kv

// #region registry
func TestGetCachesSessions(t *testing.T) {
	r := NewRegistry(producer.Template{})
	ctx := context.Background()

	a, err := r.Get(ctx, "alpha")
	require.NoError(t, err)
	b, err := r.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Same(t, a, b)

	fresh, err := r.Get(ctx, "")
	require.NoError(t, err)
	_, err = uuid.Parse(fresh.ID())
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", fresh.ID()}, r.IDs())
}

func TestSessionsAreIsolated(t *testing.T) {
	r := NewRegistry(producer.Template{})
	ctx := context.Background()

	a, err := r.Get(ctx, "a")
	require.NoError(t, err)
	b, err := r.Get(ctx, "b")
	require.NoError(t, err)

	_, err = a.Run(ctx, "plan the launch", nil)
	require.NoError(t, err)

	assert.Len(t, a.MemorySnapshot().Episodic, 1)
	assert.Empty(t, b.MemorySnapshot().Episodic)
	assert.Len(t, a.AuditLog(), 1)
	assert.Empty(t, b.AuditLog())
}

func TestSaveAndRestoreThroughSQLite(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()

	r := NewRegistry(producer.Template{}, WithStore(store))
	s, err := r.Get(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, s.Configure(func(a *selfmodel.Adapter) error {
		a.EnableValueLock("care-v1")
		a.SetGoals([]string{"ship"})
		return nil
	}))
	_, err = s.Run(ctx, "draft a roadmap", nil)
	require.NoError(t, err)
	_, err = s.Run(ctx, "review the roadmap", nil)
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx, "persisted"))

	before := s.State()

	reopened := NewRegistry(producer.Template{}, WithStore(store))
	restored, err := reopened.Load(ctx, "persisted")
	require.NoError(t, err)
	after := restored.State()

	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, before.Stats, after.Stats)
	assert.Equal(t, 2, after.Stats.Runs)
	assert.Len(t, after.Memory.Episodic, 2)
	assert.Equal(t, before.Memory.Semantic.Anchors, after.Memory.Semantic.Anchors)
	assert.Equal(t, before.Memory.Semantic.Version, after.Memory.Semantic.Version)
	assert.Equal(t, "care-v1", after.SelfModel.ValueLock)
	assert.Equal(t, []string{"ship"}, after.SelfModel.Goals)

	require.Len(t, after.Audit, 2)
	assert.Equal(t, int64(2), after.Audit[1].Seq)

	// Sequence numbers continue after a restore.
	_, err = restored.Run(ctx, "third pass", nil)
	require.NoError(t, err)
	log := restored.AuditLog()
	require.Len(t, log, 3)
	assert.Equal(t, int64(3), log[2].Seq)
}

func TestSavedStateCarriesVersionID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := NewRegistry(producer.Template{}, WithStore(store))

	_, err := r.Get(ctx, "v")
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx, "v"))
	first := storedState(t, store, "v")
	require.NoError(t, r.Save(ctx, "v"))
	second := storedState(t, store, "v")

	assert.NotEmpty(t, first.VersionID)
	assert.NotEqual(t, first.VersionID, second.VersionID)
	assert.Equal(t, "v", second.SessionID)
}

func storedState(t *testing.T, store KVStore, id string) State {
	t.Helper()
	payload, found, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	st, err := DecodeState(payload)
	require.NoError(t, err)
	return st
}

func TestLoadUnknownSession(t *testing.T) {
	r := NewRegistry(producer.Template{})
	_, err := r.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, r.IDs())
}

func TestSaveUnknownSession(t *testing.T) {
	r := NewRegistry(producer.Template{})
	assert.ErrorIs(t, r.Save(context.Background(), "ghost"), ErrNotFound)
}

func TestSaveAllPersistsEverySession(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()
	r := NewRegistry(producer.Template{}, WithStore(store))

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		s, err := r.Get(ctx, id)
		require.NoError(t, err)
		_, err = s.Run(ctx, "task for "+id, nil)
		require.NoError(t, err)
	}
	require.NoError(t, r.SaveAll(ctx))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5"}, ids)
}

func TestResetDiscardsState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := NewRegistry(producer.Template{}, WithStore(store))

	s, err := r.Get(ctx, "r")
	require.NoError(t, err)
	_, err = s.Run(ctx, "something", nil)
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx, "r"))

	fresh, err := r.Reset(ctx, "r")
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	assert.Empty(t, fresh.AuditLog())
	assert.Equal(t, Stats{}, fresh.Stats())

	_, found, err := store.Get(ctx, "r")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentRunsOnOneSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(producer.Template{})
	ctx := context.Background()
	s, err := r.Get(ctx, "busy")
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Run(ctx, "parallel request", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, s.Stats().Runs)
	assert.Len(t, s.MemorySnapshot().Episodic, n)
	log := s.AuditLog()
	require.Len(t, log, n)
	for i, e := range log {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestStrictRegistryRejectsBadAnchors(t *testing.T) {
	r := NewRegistry(producer.Template{}, WithStrict(true))
	s, err := r.Get(context.Background(), "strict")
	require.NoError(t, err)

	err = s.Configure(func(a *selfmodel.Adapter) error {
		return a.Loop().Memory().SetAnchor(memory.AnchorTransparency, 1.5)
	})
	assert.Error(t, err)
}

func TestLoopConfigApplies(t *testing.T) {
	cfg := loop.DefaultConfig()
	cfg.SystemID = "custom-core"
	r := NewRegistry(producer.Template{}, WithLoopConfig(cfg))

	s, err := r.Get(context.Background(), "c")
	require.NoError(t, err)
	a, err := s.Expand(context.Background(), "goal", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom-core", a.SystemID)
}

func TestAuditSinkWritesVerdicts(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()
	r := NewRegistry(producer.Template{},
		WithStore(store),
		WithAuditSink(func(id string) audit.Sink { return logging.Sink(store.DB(), id, nil) }),
	)

	s, err := r.Get(ctx, "audited")
	require.NoError(t, err)
	_, err = s.Run(ctx, "first", nil)
	require.NoError(t, err)
	_, err = s.Run(ctx, "second", nil)
	require.NoError(t, err)

	recs, err := logging.ReadVerdicts(ctx, store.DB(), "audited")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Seq)
	assert.Equal(t, "audited", recs[1].SessionID)

	_, err = r.Reset(ctx, "audited")
	require.NoError(t, err)
	recs, err = logging.ReadVerdicts(ctx, store.DB(), "audited")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// #endregion registry

// #region chat
type countingObserver struct {
	mu          sync.Mutex
	actions     int
	failures    int
	chats       int
	reflections int
}

func (o *countingObserver) ObserveAction(loop.Action, int) {
	o.mu.Lock()
	o.actions++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveFailure(error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveChat(_ float64, reflections int) {
	o.mu.Lock()
	o.chats++
	o.reflections += reflections
	o.mu.Unlock()
}

func TestChatReflectsWhileIncoherent(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(flat, WithObserver(obs))

	res, err := r.Chat(context.Background(), "low", "explain the plan", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Reflections)
	assert.Less(t, res.Coherence, DefaultPolicy().MinCoherence)
	assert.Equal(t, 3, obs.actions)
	assert.Equal(t, 1, obs.chats)
	assert.Equal(t, 2, obs.reflections)

	st := storedState(t, r.Store(), "low")
	assert.Equal(t, 3, st.Stats.Runs)
	assert.Equal(t, 2, st.Stats.Reflections)
	assert.Len(t, st.Audit, 3)
}

func TestChatAcceptsCoherentDraft(t *testing.T) {
	r := NewRegistry(crisp)

	res, err := r.Chat(context.Background(), "high", "explain the plan", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Reflections)
	assert.GreaterOrEqual(t, res.Coherence, DefaultPolicy().MinCoherence)
	assert.Equal(t, "high", res.SessionID)
	assert.Equal(t, 1, storedState(t, r.Store(), "high").Stats.Runs)
}

func TestChatHonorsReflectionLimit(t *testing.T) {
	var mu sync.Mutex
	var briefs []string
	p := producer.Func(func(_ context.Context, msgs []producer.Message) (string, error) {
		mu.Lock()
		briefs = append(briefs, producer.LastUser(msgs))
		mu.Unlock()
		return "lowercase only", nil
	})
	r := NewRegistry(p, WithPolicy(Policy{MinCoherence: 0.45, MaxReflections: 1, CritiqueNote: "critique: tighten"}))

	res, err := r.Chat(context.Background(), "n", "plan", map[string]any{"channel": "cli"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reflections)
	assert.Len(t, briefs, 2)
}

func TestRunRecordsLastContent(t *testing.T) {
	r := NewRegistry(crisp)
	ctx := context.Background()
	s, err := r.Get(ctx, "last")
	require.NoError(t, err)

	a, err := s.Run(ctx, "plan the rollout", nil)
	require.NoError(t, err)
	assert.Equal(t, a.Content, s.Stats().LastContent)
	assert.Equal(t, a.Content, s.State().Stats.LastContent)
}

func TestHarmonizeDoesNotProduce(t *testing.T) {
	r := NewRegistry(crisp)
	ctx := context.Background()
	s, err := r.Get(ctx, "dry")
	require.NoError(t, err)

	obs, outline := s.Harmonize(map[string]any{"query": "urgent: plan the rollout"})
	assert.Equal(t, 1.0, obs.Features[loop.FeatureUrgency])
	assert.Equal(t, "urgent: plan the rollout", outline.Premise)
	assert.Empty(t, s.AuditLog())
	assert.Empty(t, s.MemorySnapshot().Episodic)
	assert.Equal(t, Stats{}, s.Stats())
}

func TestChatProducerFailure(t *testing.T) {
	obs := &countingObserver{}
	boom := producer.Func(func(context.Context, []producer.Message) (string, error) {
		return "", errors.New("offline")
	})
	r := NewRegistry(boom, WithObserver(obs))

	_, err := r.Chat(context.Background(), "down", "anything", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, loop.ErrProducer)

	s, err := r.Get(context.Background(), "down")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().Failures)
	assert.Empty(t, s.AuditLog())
	assert.Equal(t, 1, obs.failures)
	assert.Equal(t, 0, obs.chats)
}

// #endregion chat

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, DriverSQLite, filepath.Join(t.TempDir(), "open.db"), "")
	require.NoError(t, err)
	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	m, err := OpenStore(ctx, DriverMemory, "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, m)

	_, err = OpenStore(ctx, "redis", "", "")
	assert.Error(t, err)
}
