package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRebookingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRebookingMetrics(reg)

	m.ObserveDispatch("direct", "processed")
	m.ObserveDispatch("direct", "processed")
	m.ObserveDispatch("sweep", "already_processed")
	m.ObserveInvitation("email", true)
	m.ObserveInvitation("sms", false)
	m.ObserveResolution("accept", "slot_already_taken")
	m.ObserveSweep("invitations_expired", 3)
	m.ObserveSweep("slot_offers_expired", 0)
	m.ObserveClaimLatency(0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("direct", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("sweep", "already_processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invitationsTotal.WithLabelValues("sms", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("accept", "slot_already_taken")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepTotal.WithLabelValues("invitations_expired")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.claimLatency))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *RebookingMetrics
	assert.NotPanics(t, func() {
		m.ObserveDispatch("direct", "processed")
		m.ObserveInvitation("email", true)
		m.ObserveResolution("decline", "declined")
		m.ObserveClaimLatency(1)
		m.ObserveSweep("x", 1)
	})
}
