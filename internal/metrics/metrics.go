// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for the proactive-care engine.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push outcomes.
const (
	OutcomeDelivered        = "delivered"
	OutcomeOffline          = "offline"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeSkipped          = "skipped"
)

var (
	dispatches         int64
	generationFailures int64
	pushesDelivered    int64
	pushesOffline      int64
	connDeliveries     int64
	connFailures       int64
	inflight           int64
	scheduledJobs      int64
	lastFire           int64
)

const counterInc int64 = 1

var (
	promDispatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_dispatches_total",
			Help: "Total job executions handed to a worker",
		},
	)
	promPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_pushes_total",
			Help: "Job executions by category and outcome",
		},
		[]string{"category", "outcome"},
	)
	promConnDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_connection_deliveries_total",
			Help: "Per-connection push attempts",
		},
		[]string{"status"},
	)
	promGenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "companion_generation_duration_seconds",
			Help: "Duration of content generation calls",
			Buckets: []float64{
				0.1,
				0.25,
				0.5,
				1,
				2,
				5,
				10,
				30,
				60,
			},
		},
	)
	promInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_dispatch_inflight",
			Help: "Job executions currently running",
		},
	)
	promScheduledJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_scheduled_jobs",
			Help: "Jobs currently registered with the scheduler",
		},
	)
	promOnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_online_users",
			Help: "Users with at least one live connection",
		},
	)
	promConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_connections",
			Help: "Live connections across all users",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promDispatches,
		promPushes,
		promConnDeliveries,
		promGenerationDuration,
		promInflight,
		promScheduledJobs,
		promOnlineUsers,
		promConnections,
	)
}

// IncDispatch counts one execution handed to a worker.
func IncDispatch() {
	atomic.AddInt64(&dispatches, counterInc)
	atomic.StoreInt64(&lastFire, time.Now().Unix())
	promDispatches.Inc()
}

// IncPush records the outcome of one job execution.
func IncPush(category, outcome string) {
	switch outcome {
	case OutcomeDelivered:
		atomic.AddInt64(&pushesDelivered, counterInc)
	case OutcomeOffline:
		atomic.AddInt64(&pushesOffline, counterInc)
	case OutcomeGenerationFailed:
		atomic.AddInt64(&generationFailures, counterInc)
	}
	promPushes.WithLabelValues(category, outcome).Inc()
}

// AddConnectionDeliveries records per-connection push results.
func AddConnectionDeliveries(ok, failed int) {
	if ok > 0 {
		atomic.AddInt64(&connDeliveries, int64(ok))
		promConnDeliveries.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		atomic.AddInt64(&connFailures, int64(failed))
		promConnDeliveries.WithLabelValues("failed").Add(float64(failed))
	}
}

// ObserveGeneration records the duration of a content generation call.
func ObserveGeneration(d time.Duration) {
	promGenerationDuration.Observe(d.Seconds())
}

// InflightAdd moves the running-executions gauge by delta.
func InflightAdd(delta int64) {
	atomic.AddInt64(&inflight, delta)
	promInflight.Add(float64(delta))
}

// SetScheduledJobs stores the current job count.
func SetScheduledJobs(n int) {
	atomic.StoreInt64(&scheduledJobs, int64(n))
	promScheduledJobs.Set(float64(n))
}

// SetPresence stores current online user and connection counts.
func SetPresence(users, conns int) {
	promOnlineUsers.Set(float64(users))
	promConnections.Set(float64(conns))
}

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Dispatches         int64  `json:"dispatches"`
	GenerationFailures int64  `json:"generation_failures"`
	PushesDelivered    int64  `json:"pushes_delivered"`
	PushesOffline      int64  `json:"pushes_offline"`
	ConnDeliveries     int64  `json:"connection_deliveries"`
	ConnFailures       int64  `json:"connection_failures"`
	Inflight           int64  `json:"inflight"`
	ScheduledJobs      int64  `json:"scheduled_jobs"`
	LastFire           int64  `json:"last_fire_timestamp"`
	LastFireHuman      string `json:"last_fire_human"`
}

// GetSnapshot returns the current values of all internal counters.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastFire)
	human := ""
	if ts > 0 {
		human = time.Unix(ts, 0).Format(time.RFC3339)
	}
	return StatsSnapshot{
		Dispatches:         atomic.LoadInt64(&dispatches),
		GenerationFailures: atomic.LoadInt64(&generationFailures),
		PushesDelivered:    atomic.LoadInt64(&pushesDelivered),
		PushesOffline:      atomic.LoadInt64(&pushesOffline),
		ConnDeliveries:     atomic.LoadInt64(&connDeliveries),
		ConnFailures:       atomic.LoadInt64(&connFailures),
		Inflight:           atomic.LoadInt64(&inflight),
		ScheduledJobs:      atomic.LoadInt64(&scheduledJobs),
		LastFire:           ts,
		LastFireHuman:      human,
	}
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler serves the current StatsSnapshot as JSON.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
