package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking engine. A nil *BookingMetrics is a no-op.
type BookingMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	slotsReturned     prometheus.Histogram
	notificationTotal *prometheus.CounterVec
	outboxPublished   prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking engine operations by outcome",
		}, []string{"operation", "result"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "operation_latency_seconds",
			Help:      "Latency of booking engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "slots_returned",
			Help:      "Number of slots returned per availability query",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
		notificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "notify",
			Name:      "confirmations_total",
			Help:      "Confirmation notifications by outcome",
		}, []string{"status"}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to Kafka",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency, m.slotsReturned, m.notificationTotal, m.outboxPublished)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveSlots(n int) {
	if m == nil {
		return
	}
	m.slotsReturned.Observe(float64(n))
}

func (m *BookingMetrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notificationTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) AddPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxPublished.Add(float64(n))
}
