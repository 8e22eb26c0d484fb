package metrics

import "github.com/prometheus/client_golang/prometheus"

// RebookingMetrics exposes counters/histograms for the waitlist rebooking flow.
// All methods are nil-safe so components can run without metrics.
type RebookingMetrics struct {
	dispatchTotal    *prometheus.CounterVec
	invitationsTotal *prometheus.CounterVec
	resolutionsTotal *prometheus.CounterVec
	claimLatency     prometheus.Histogram
	sweepTotal       *prometheus.CounterVec
}

func NewRebookingMetrics(reg prometheus.Registerer) *RebookingMetrics {
	m := &RebookingMetrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "rebooking",
			Name:      "dispatch_total",
			Help:      "Slot offer processing attempts by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		invitationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "rebooking",
			Name:      "invitations_total",
			Help:      "Invitations issued by channel and delivery result",
		}, []string{"channel", "delivery"}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "rebooking",
			Name:      "resolutions_total",
			Help:      "Invitation responses by action and outcome",
		}, []string{"action", "outcome"}),
		claimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "rebooking",
			Name:      "claim_seconds",
			Help:      "Latency of the atomic slot claim transaction",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "rebooking",
			Name:      "sweep_items_total",
			Help:      "Items handled by the sweep by kind",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchTotal, m.invitationsTotal, m.resolutionsTotal, m.claimLatency, m.sweepTotal)
	return m
}

func (m *RebookingMetrics) ObserveDispatch(trigger, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *RebookingMetrics) ObserveInvitation(channel string, delivered bool) {
	if m == nil {
		return
	}
	label := "failed"
	if delivered {
		label = "sent"
	}
	m.invitationsTotal.WithLabelValues(channel, label).Inc()
}

func (m *RebookingMetrics) ObserveResolution(action, outcome string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *RebookingMetrics) ObserveClaimLatency(seconds float64) {
	if m == nil {
		return
	}
	m.claimLatency.Observe(seconds)
}

func (m *RebookingMetrics) ObserveSweep(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepTotal.WithLabelValues(kind).Add(float64(n))
}
