package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoAgent(text string, confidence float64) Agent {
	return Func(func(ctx context.Context, prompt string) (*Response, error) {
		return &Response{Text: text, Confidence: confidence}, nil
	})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		AgentID:      "alpha",
		DisplayName:  "Alpha",
		Capabilities: []string{"general"},
	}, echoAgent("yes", 0.9)))

	reg, a, err := r.Get("alpha")
	require.NoError(t, err)
	require.Equal(t, 1.0, reg.Weight, "weight defaults to 1.0")
	require.True(t, reg.Active)
	require.True(t, reg.HasCapability("general"))
	require.False(t, reg.HasCapability("vision"))

	resp, err := a.Invoke(context.Background(), "task")
	require.NoError(t, err)
	require.Equal(t, "yes", resp.Text)
}

func TestRegistry_RejectsBadRegistrations(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(Registration{}, echoAgent("x", 1)))
	require.Error(t, r.Register(Registration{AgentID: "a"}, nil))
	require.Error(t, r.Register(Registration{AgentID: "a", Weight: -1}, echoAgent("x", 1)))

	require.NoError(t, r.Register(Registration{AgentID: "a"}, echoAgent("x", 1)))
	require.Error(t, r.Register(Registration{AgentID: "a"}, echoAgent("x", 1)), "duplicate id")
}

func TestRegistry_SoftRemoval(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{AgentID: "a"}, echoAgent("x", 1)))

	// Referenced by an in-flight roundtable: unregister fails, deactivate works.
	require.NoError(t, r.Acquire("a"))
	require.Error(t, r.Unregister("a"))
	require.NoError(t, r.Deactivate("a"))

	_, _, err := r.Get("a")
	require.Error(t, err, "inactive agents serve no new roundtables")
	require.Len(t, r.List(false), 0)
	require.Len(t, r.List(true), 1)

	// Once released, the agent can be removed outright.
	r.Release("a")
	require.NoError(t, r.Unregister("a"))
	require.Len(t, r.List(true), 0)
}

func TestRegistry_TrustScore(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{AgentID: "a"}, echoAgent("x", 1)))

	regs := r.List(false)
	require.InDelta(t, 0.5, regs[0].TrustScore(), 1e-9, "uniform prior")

	for i := 0; i < 8; i++ {
		r.RecordOutcome("a", true)
	}
	r.RecordOutcome("a", false)

	regs = r.List(false)
	require.InDelta(t, 9.0/11.0, regs[0].TrustScore(), 1e-9)
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Register(Registration{AgentID: id}, echoAgent("x", 1)))
	}
	regs := r.List(false)
	require.Equal(t, "alpha", regs[0].AgentID)
	require.Equal(t, "bravo", regs[1].AgentID)
	require.Equal(t, "charlie", regs[2].AgentID)
}

func TestRegistration_EffectiveWeight(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{AgentID: "a", Weight: 2.0}, echoAgent("x", 1)))

	regs := r.List(false)
	require.InDelta(t, 1.0, regs[0].EffectiveWeight(), 1e-9, "fresh agent scales by the prior mean")

	for i := 0; i < 3; i++ {
		r.RecordOutcome("a", true)
	}
	r.RecordOutcome("a", false)

	regs = r.List(false)
	require.InDelta(t, 2.0*4.0/6.0, regs[0].EffectiveWeight(), 1e-9)
}
