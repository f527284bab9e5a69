package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Submitted("token.approve")
	r.Submitted("token.approve")
	r.Rejected("nonce_too_low")
	r.Mined("token.approve", true, 2*time.Second)
	r.Mined("factory.createGame", false, time.Second)
	r.EstimationFailed("estimate_gas")
	r.TwoPhase("create-game", "action_confirmed")

	require.Equal(t, 2.0, testutil.ToFloat64(r.submitted.WithLabelValues("token.approve")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.rejected.WithLabelValues("nonce_too_low")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.confirmed.WithLabelValues("factory.createGame", "reverted")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.twoPhase.WithLabelValues("create-game", "action_confirmed")))

	count, err := testutil.GatherAndCount(reg, "chessctl_tx_confirmation_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Submitted("x")
	r.Rejected("x")
	r.Mined("x", true, time.Second)
	r.EstimationFailed("x")
	r.TwoPhase("x", "y")
}
