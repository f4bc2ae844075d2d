package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveStoryTransition_IncrementsCounter(t *testing.T) {
	r := New()
	r.ObserveStoryTransition("Completed")
	r.ObserveStoryTransition("Completed")
	r.ObserveStoryTransition("Error")

	require.InDelta(t, 2, testutil.ToFloat64(r.storiesTransitioned.WithLabelValues("Completed")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.storiesTransitioned.WithLabelValues("Error")), 0)
}

func TestAddPlannerTokens_IgnoresNonPositive(t *testing.T) {
	r := New()
	r.AddPlannerTokens(0)
	r.AddPlannerTokens(-5)
	require.InDelta(t, 0, testutil.ToFloat64(r.plannerTokensUsed), 0)

	r.AddPlannerTokens(120)
	require.InDelta(t, 120, testutil.ToFloat64(r.plannerTokensUsed), 0)
}
