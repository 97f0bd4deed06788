package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegisteredOnce(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(AttemptsSubmitted().WithLabelValues("manual"))
	AttemptsSubmitted().WithLabelValues("manual").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(AttemptsSubmitted().WithLabelValues("manual")))

	Violations().WithLabelValues("tab_switch").Add(2)
	require.GreaterOrEqual(t, testutil.ToFloat64(Violations().WithLabelValues("tab_switch")), 2.0)

	LiveSessions().Inc()
	LiveSessions().Dec()
	require.Zero(t, testutil.ToFloat64(LiveSessions()))
}
