package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediarelay"

var (
	promReconcilePasses  *prometheus.CounterVec
	promFanoutFailures   *prometheus.CounterVec
	promBatchesSent      *prometheus.CounterVec
	promBatchEntries     *prometheus.HistogramVec
	promSpeakingThrottle prometheus.Counter
	promSSRCMismatch     prometheus.Counter
	promParticipants     prometheus.Gauge
	promControlConnected prometheus.Gauge

	registerOnce sync.Once
)

func init() {
	promReconcilePasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "passes_total",
	}, []string{"event"})
	promFanoutFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "fanout_failures_total",
	}, []string{"op"})
	promBatchesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "batches_total",
	}, []string{"type"})
	promBatchEntries = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "batch_entries",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	}, []string{"type"})
	promSpeakingThrottle = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "speaking",
		Name:      "throttled_total",
	})
	promSSRCMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "speaking",
		Name:      "ssrc_mismatch_total",
	})
	promParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "participant",
		Name:      "total",
	})
	promControlConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "connected",
	})
}

// Register adds the relay collectors to the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			promReconcilePasses,
			promFanoutFailures,
			promBatchesSent,
			promBatchEntries,
			promSpeakingThrottle,
			promSSRCMismatch,
			promParticipants,
			promControlConnected,
		)
	})
}

func ReconcilePass(event string) {
	promReconcilePasses.WithLabelValues(event).Inc()
}

func FanoutFailure(op string) {
	promFanoutFailures.WithLabelValues(op).Inc()
}

func BatchSent(batchType string, entries int) {
	promBatchesSent.WithLabelValues(batchType).Inc()
	promBatchEntries.WithLabelValues(batchType).Observe(float64(entries))
}

func SpeakingThrottled() {
	promSpeakingThrottle.Inc()
}

func SSRCMismatch() {
	promSSRCMismatch.Inc()
}

func SetParticipants(n int) {
	promParticipants.Set(float64(n))
}

func SetControlConnected(connected bool) {
	if connected {
		promControlConnected.Set(1)
		return
	}
	promControlConnected.Set(0)
}
