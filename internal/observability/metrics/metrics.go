// Package metrics provides Prometheus instrumentation for the raffle service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string
	registerOne sync.Once

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Raffle domain metrics
	raffleEntriesTotal *prometheus.CounterVec
	raffleRoundsTotal  *prometheus.CounterVec
	rafflePlayers      prometheus.Gauge
	rafflePoolWei      prometheus.Gauge
	rafflePrizeWei     prometheus.Histogram

	// Upkeep metrics
	keeperChecksTotal  *prometheus.CounterVec
	upkeepPerformTotal *prometheus.CounterVec

	// Coordinator metrics
	vrfRequestsTotal     prometheus.Counter
	vrfFulfillmentsTotal *prometheus.CounterVec
)

// Init initializes the metrics system. Collectors are registered once per
// process.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	registerOne.Do(register)
}

func register() {
	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	raffleEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_entries_total",
			Help: "Total number of raffle entrance attempts",
		},
		[]string{"status"},
	)

	raffleRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_rounds_total",
			Help: "Total number of raffle rounds finalized or failed",
		},
		[]string{"result"},
	)

	rafflePlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_players",
		Help: "Players in the current round",
	})

	rafflePoolWei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_pool_wei",
		Help: "Prize pool of the current round in wei",
	})

	rafflePrizeWei = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "raffle_prize_wei",
		Help:    "Prize paid to round winners in wei",
		Buckets: prometheus.ExponentialBuckets(1e15, 10, 6),
	})

	keeperChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keeper_checks_total",
			Help: "Total number of upkeep checks made by the keeper",
		},
		[]string{"needed"},
	)

	upkeepPerformTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_upkeep_perform_total",
			Help: "Total number of perform-upkeep attempts",
		},
		[]string{"result"},
	)

	vrfRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrf_requests_total",
		Help: "Total number of randomness requests",
	})

	vrfFulfillmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrf_fulfillments_total",
			Help: "Total number of randomness fulfillment attempts",
		},
		[]string{"result"},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
