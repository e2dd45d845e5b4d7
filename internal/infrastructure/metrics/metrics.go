package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "lobstream"

var (
	RecordsTotal          = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "records_total", Help: "Feed records received"}, []string{"symbol"})
	RecordsMalformedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "records_malformed_total", Help: "Records rejected by the normalizer"}, []string{"symbol"})
	EventsAppliedTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_applied_total", Help: "Events committed to the book"}, []string{"symbol", "kind"})
	EventsStaleTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_stale_total", Help: "Stale or duplicate events ignored"}, []string{"symbol"})
	EventsDiscardedTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_discarded_total", Help: "Events dropped while not synced"}, []string{"symbol", "state"})
	SequenceGapsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "sequence_gaps_total", Help: "Sequence gaps detected"}, []string{"symbol"})
	ResyncsTotal          = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "resyncs_total", Help: "Snapshot requests by reason"}, []string{"symbol", "reason"})
	ControllerState       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "controller_state", Help: "Reconciliation state (0 disconnected, 1 awaiting snapshot, 2 synced, 3 resyncing)"}, []string{"symbol"})
	BookSequence          = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "book_sequence", Help: "Last applied sequence"}, []string{"symbol"})
	PublishTotal          = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "publish_total", Help: "Messages pushed to a sink"}, []string{"sink"})
	PublishDroppedTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "publish_dropped_total", Help: "Messages dropped by backpressure or sink failure"}, []string{"stage"})
	FeedReconnectsTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "feed_reconnects_total", Help: "Feed transport reconnect attempts"}, []string{"source"})
)

// Register adds every collector to a fresh registry.
func Register(logger *logrus.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		RecordsTotal, RecordsMalformedTotal, EventsAppliedTotal, EventsStaleTotal, EventsDiscardedTotal,
		SequenceGapsTotal, ResyncsTotal, ControllerState, BookSequence,
		PublishTotal, PublishDroppedTotal, FeedReconnectsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil && logger != nil {
			logger.WithError(err).Warn("register collector")
		}
	}
	if logger != nil {
		logger.Info("prometheus metrics initialized")
	}
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
