package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of active charging sessions on the
	// station at the moment of the last stationStatus computation.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chargecore_active_sessions",
		Help: "Number of active charging sessions",
	})

	// AllocatedPowerKw tracks total allocated power across all sessions.
	AllocatedPowerKw = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chargecore_allocated_power_kw",
		Help: "Total power currently allocated across all sessions, in kW",
	})

	// GridUtilizationRatio tracks Σallocated / gridCapacity.
	GridUtilizationRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chargecore_grid_utilization_ratio",
		Help: "Ratio of total allocated power to grid capacity",
	})

	// JainFairnessIndexGauge tracks the last computed Jain fairness index.
	JainFairnessIndexGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chargecore_jain_fairness_index",
		Help: "Jain's fairness index over current session allocations",
	})

	// BessSocKwh tracks the battery's state of charge in kWh.
	BessSocKwh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chargecore_bess_soc_kwh",
		Help: "Battery state of charge, in kWh",
	})

	// BessCurrentPowerKw tracks the battery's signed current power.
	BessCurrentPowerKw = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chargecore_bess_current_power_kw",
		Help: "Battery current power, positive discharging, negative charging",
	})

	// RecomputeDuration tracks how long Allocator.Recompute takes.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chargecore_recompute_duration_seconds",
		Help:    "Duration of allocator recompute calls in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// ConnectorOccupiedRejections counts startSession calls rejected
	// because the target connector was already occupied.
	ConnectorOccupiedRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chargecore_connector_occupied_rejections_total",
		Help: "Total startSession calls rejected because the connector was occupied",
	})

	// HTTPRequestDuration holds HTTP request durations recorded through
	// RecordHTTPRequest, following the teacher's http metrics shape. The
	// fiber transport does not call RecordHTTPRequest.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chargecore_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path", "status"})

	// CacheAccessTotal counts cache hits and misses recorded through
	// RecordCacheAccess. The façade does not read the cache and does not
	// call RecordCacheAccess.
	CacheAccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chargecore_cache_access_total",
		Help: "Total cache accesses by result",
	}, []string{"result"}) // hit, miss
)

// RecordHTTPRequest records an HTTP request metric in the same shape the
// teacher's RecordHTTPRequest helper used.
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
}

// RecordCacheAccess records a cache hit or miss.
func RecordCacheAccess(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheAccessTotal.WithLabelValues(result).Inc()
}
