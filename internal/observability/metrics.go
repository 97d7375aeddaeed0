package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnectionStates are the label values of ConnectionState.
var ConnectionStates = []string{"DISCONNECTED", "CONNECTING", "CONNECTED", "PUBLISHING"}

var (
	registry *prometheus.Registry

	// Publish cycles by reconciled status. Watch for: SENSOR_CONFLICT share rising.
	PublishCyclesTotal *prometheus.CounterVec

	// Failed deliveries (timeout or transport error). Each one forces a reconnect.
	PublishFailuresTotal prometheus.Counter

	// Cycles skipped because the record could not be encoded.
	SerializationFailuresTotal prometheus.Counter

	// Connection attempts by outcome (ok|error).
	ConnectAttemptsTotal *prometheus.CounterVec

	// Current transport state, one series per state with value 1 for the active one.
	ConnectionState *prometheus.GaugeVec

	// Age of the record read from each slot on the last cycle. Defaults report 0.
	SlotAgeSeconds *prometheus.GaugeVec

	// Reads that fell back to the slot default, by reason (not_found|corrupt|backend).
	StoreFallbacksTotal *prometheus.CounterVec

	// Producer writes by slot and outcome (written|absent|error).
	StoreWritesTotal *prometheus.CounterVec

	// Telemetry received by the monitor, by status; duplicates counted apart.
	MonitorMessagesTotal   *prometheus.CounterVec
	MonitorDuplicatesTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	PublishCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vwc_publish_cycles_total",
			Help: "Telemetry records delivered, by reconciliation status",
		},
		[]string{"status"},
	)
	PublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vwc_publish_failures_total",
			Help: "Telemetry deliveries that failed or timed out",
		},
	)
	SerializationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vwc_serialization_failures_total",
			Help: "Publish cycles skipped because the record could not be encoded",
		},
	)
	ConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vwc_connect_attempts_total",
			Help: "Broker connection attempts by outcome",
		},
		[]string{"outcome"},
	)
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vwc_connection_state",
			Help: "1 for the current transport state, 0 otherwise",
		},
		[]string{"state"},
	)
	SlotAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vwc_slot_age_seconds",
			Help: "Age of the estimate read from a slot on the last publish cycle",
		},
		[]string{"slot"},
	)
	StoreFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vwc_store_fallbacks_total",
			Help: "Slot reads that degraded to the default record",
		},
		[]string{"slot", "reason"},
	)
	StoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vwc_store_writes_total",
			Help: "Producer writes by slot and outcome",
		},
		[]string{"slot", "outcome"},
	)
	MonitorMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vwc_monitor_messages_total",
			Help: "Telemetry records received by the monitor, by status",
		},
		[]string{"status"},
	)
	MonitorDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vwc_monitor_duplicates_total",
			Help: "QoS1 redeliveries dropped by the monitor",
		},
	)

	registry.MustRegister(
		PublishCyclesTotal, PublishFailuresTotal, SerializationFailuresTotal,
		ConnectAttemptsTotal, ConnectionState,
		SlotAgeSeconds, StoreFallbacksTotal, StoreWritesTotal,
		MonitorMessagesTotal, MonitorDuplicatesTotal,
	)

	// every binary starts disconnected
	for _, st := range ConnectionStates {
		v := 0.0
		if st == "DISCONNECTED" {
			v = 1
		}
		ConnectionState.WithLabelValues(st).Set(v)
	}
}

// Handler serves the private registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests.
func Registry() *prometheus.Registry {
	return registry
}
