package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsSubmittedTotal,
		jobsFinishedTotal,
		pollAttemptsTotal,
		pollTimeoutsTotal,
		streamFramesTotal,
		streamDegradedTotal,
		guardInflight,
		guardSharedTotal,
		remoteLatencyMs,
	)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_jobs_submitted_total",
			Help: "Generation submissions, labeled by mode and result.",
		},
		[]string{"mode", "result"}, // result: ok|rejected|no_id
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_jobs_finished_total",
			Help: "Generations handed back to callers, labeled by final status.",
		},
		[]string{"mode", "status"},
	)

	pollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_poll_attempts_total",
			Help: "Job record fetches, labeled by outcome.",
		},
		[]string{"result"}, // terminal|pending|error
	)

	pollTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mina_poll_timeouts_total",
			Help: "Polls that hit the wall-clock limit and returned an inconclusive record.",
		},
	)

	streamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_stream_frames_total",
			Help: "Progress frames received, labeled by normalized shape.",
		},
		[]string{"shape"},
	)

	streamDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_stream_degraded_total",
			Help: "Progress channels that failed before a done signal.",
		},
		[]string{"reason"},
	)

	guardInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mina_guard_inflight",
			Help: "Submissions currently held by the action guard.",
		},
	)

	guardSharedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mina_guard_shared_total",
			Help: "Callers that joined an in-flight submission instead of starting one.",
		},
	)

	remoteLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mina_remote_latency_ms",
			Help:    "Remote API call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"op", "success"},
	)
)

func IncJobSubmitted(mode, result string) {
	jobsSubmittedTotal.WithLabelValues(norm(mode), norm(result)).Inc()
}

func IncJobFinished(mode, status string) {
	jobsFinishedTotal.WithLabelValues(norm(mode), norm(status)).Inc()
}

func IncPollAttempt(result string) {
	pollAttemptsTotal.WithLabelValues(norm(result)).Inc()
}

func IncPollTimeout() { pollTimeoutsTotal.Inc() }

func IncStreamFrame(shape string) {
	streamFramesTotal.WithLabelValues(norm(shape)).Inc()
}

func IncStreamDegraded(reason string) {
	streamDegradedTotal.WithLabelValues(norm(reason)).Inc()
}

func GuardInflightAdd(delta float64) { guardInflight.Add(delta) }

func IncGuardShared() { guardSharedTotal.Inc() }

func ObserveRemoteCall(op string, latencyMs int64, success bool) {
	remoteLatencyMs.WithLabelValues(norm(op), strconv.FormatBool(success)).Observe(float64(latencyMs))
}
