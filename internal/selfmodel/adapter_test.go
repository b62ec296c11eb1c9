package selfmodel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/memory"
	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
)

func newAdapter() *Adapter {
	return NewAdapter(loop.New(loop.DefaultConfig(), producer.Template{}), nil)
}

func samples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{"trace": i}
	}
	return out
}

// #region training
func TestTrainSelfModelTenSamples(t *testing.T) {
	a := newAdapter()

	a.TrainSelfModel(samples(10))
	caps := a.SelfModel().Capabilities
	assert.InDelta(t, 0.9, caps[CapReasoning], 1e-12)
	assert.InDelta(t, 0.9, caps[CapPlanning], 1e-12)
	assert.InDelta(t, 0.98, caps[CapEthics], 1e-12)

	a.TrainSelfModel(samples(10))
	caps = a.SelfModel().Capabilities
	for name, v := range caps {
		assert.InDelta(t, 0.98, v, 1e-12, name)
	}
}

func TestTrainSelfModelEmptyCountsAsOne(t *testing.T) {
	a := newAdapter()
	a.TrainSelfModel(nil)
	assert.InDelta(t, 0.72, a.SelfModel().Capabilities[CapReasoning], 1e-12)
}

func TestTrainSelfModelNeverLowers(t *testing.T) {
	a := newAdapter()
	m := DefaultSelfModel()
	m.Capabilities[CapEthics] = 0.99
	a.RestoreSelfModel(m)

	a.TrainSelfModel(samples(3))
	assert.Equal(t, 0.99, a.SelfModel().Capabilities[CapEthics])
}

// #endregion training

// #region profile
func TestEnableValueLockStoresLabel(t *testing.T) {
	a := newAdapter()
	a.EnableValueLock("coherence_ethic_v1")

	assert.Equal(t, "coherence_ethic_v1", a.SelfModel().ValueLock)
	v, ok := a.Loop().Memory().Label(memory.LabelValueLock)
	require.True(t, ok)
	assert.Equal(t, "coherence_ethic_v1", v)
}

func TestGoalsAndLimitsAreCopied(t *testing.T) {
	a := newAdapter()
	goals := []string{"ship", "audit"}
	a.SetGoals(goals)
	goals[0] = "changed"
	assert.Equal(t, []string{"ship", "audit"}, a.Goals())

	a.SetLimits(Limits{Tools: []string{"search"}})
	assert.Equal(t, []string{"search"}, a.Limits().Tools)
	assert.Empty(t, a.Limits().KnowledgeGaps)
}

func TestSelfModelSnapshotDetached(t *testing.T) {
	a := newAdapter()
	m := a.SelfModel()
	m.Capabilities[CapReasoning] = 0
	assert.Equal(t, 0.7, a.SelfModel().Capabilities[CapReasoning])
}

// #endregion profile

// #region reflection
func TestReflectiveStepInactiveIsNoop(t *testing.T) {
	a := newAdapter()
	before := a.Loop().Memory().Version()

	require.NoError(t, a.ReflectiveStep(DefaultCritiqueWeight))
	assert.Equal(t, before, a.Loop().Memory().Version())
}

func TestReflectiveStepNudgesAnchors(t *testing.T) {
	a := newAdapter()
	a.ActivateContinuousReflection()

	mode, _ := a.Loop().Memory().Label(memory.LabelReflection)
	assert.Equal(t, "continuous", mode)

	require.NoError(t, a.ReflectiveStep(DefaultCritiqueWeight))
	mem := a.Loop().Memory()
	assert.InDelta(t, 0.8075, mem.AnchorOr(memory.AnchorReciprocity, 0), 1e-12)
	assert.InDelta(t, 0.7575, mem.AnchorOr(memory.AnchorCircularity, 0), 1e-12)
	assert.InDelta(t, 0.8575, mem.AnchorOr(memory.AnchorTransparency, 0), 1e-12)
}

func TestReflectiveStepCapsAtOne(t *testing.T) {
	a := newAdapter()
	a.ActivateContinuousReflection()
	require.NoError(t, a.Loop().Memory().SetAnchor(memory.AnchorReciprocity, 0.999))

	require.NoError(t, a.ReflectiveStep(1))
	assert.Equal(t, 1.0, a.Loop().Memory().AnchorOr(memory.AnchorReciprocity, 0))
}

// #endregion reflection

// #region run
func TestRunUrgentRolloutPlan(t *testing.T) {
	a := newAdapter()

	act, err := a.Run(context.Background(), "urgent rollout plan", nil)
	require.NoError(t, err)

	// instability = 0.2 + 0.6*1.0 with default anchors
	assert.InDelta(t, metric.Drift(0.8, 0.15, 0.125), act.Scores.Sigma, 1e-9)
	assert.InDelta(t, 100*act.Scores.Kappa*act.Scores.Tau, act.Incentives[loop.IncentiveCCE], 1e-9)
	assert.Equal(t, 0.85, a.Loop().Memory().AnchorOr(memory.AnchorTransparency, 0), "sigma below 0.6 leaves transparency alone")
}

func TestRunVigilanceRaisesTransparency(t *testing.T) {
	a := newAdapter()
	mem := a.Loop().Memory()
	require.NoError(t, mem.SetAnchors(map[string]float64{
		memory.AnchorTransparency: 0,
		memory.AnchorCircularity:  0,
	}))

	act, err := a.Run(context.Background(), "urgent", nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.1, mem.AnchorOr(memory.AnchorTransparency, 0), 1e-12)
	assert.InDelta(t, metric.Drift(0.8, 0.9, 0.5), act.Scores.Sigma, 1e-9)
}

func TestRunWithReflection(t *testing.T) {
	a := newAdapter()
	a.ActivateContinuousReflection()

	_, err := a.Run(context.Background(), "Refine the microgrid adoption roadmap", nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.8075, a.Loop().Memory().AnchorOr(memory.AnchorReciprocity, 0), 1e-12)
	assert.Len(t, a.Loop().MemorySnapshot().Episodic, 1)
}

func TestRunProducerFailureSkipsReflection(t *testing.T) {
	boom := errors.New("down")
	l := loop.New(loop.DefaultConfig(), producer.Func(func(ctx context.Context, _ []producer.Message) (string, error) {
		return "", boom
	}))
	a := NewAdapter(l, nil)
	a.ActivateContinuousReflection()

	_, err := a.Run(context.Background(), "plan", nil)
	require.ErrorIs(t, err, loop.ErrProducer)
	assert.Equal(t, 0.8, l.Memory().AnchorOr(memory.AnchorReciprocity, 0))
}

// #endregion run
