package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		creditsAnomaliesTotal,
		creditsRefreshTotal,
		uploadsTotal,
		uploadBytes,
		assetStabilizeTotal,
	)
}

var (
	creditsAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_credits_anomalies_total",
			Help: "Reported balances rejected by the credits ledger.",
		},
		[]string{"reason"}, // non_finite|negative|zero_over_positive|malformed
	)

	creditsRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_credits_refresh_total",
			Help: "Balance refreshes from the backend, labeled by outcome.",
		},
		[]string{"result"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_uploads_total",
			Help: "Reference uploads, labeled by category and outcome.",
		},
		[]string{"category", "result"},
	)

	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mina_upload_bytes",
			Help:    "Size distribution of uploaded reference files.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
		},
	)

	assetStabilizeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mina_asset_stabilize_total",
			Help: "Asset stabilization attempts, labeled by outcome.",
		},
		[]string{"result"}, // own_host|stored|fallback|passthrough
	)
)

func IncCreditsAnomaly(reason string) {
	creditsAnomaliesTotal.WithLabelValues(norm(reason)).Inc()
}

func IncCreditsRefresh(result string) {
	creditsRefreshTotal.WithLabelValues(norm(result)).Inc()
}

func IncUpload(category, result string) {
	uploadsTotal.WithLabelValues(norm(category), norm(result)).Inc()
}

func ObserveUploadBytes(n int) { uploadBytes.Observe(float64(n)) }

func IncAssetStabilize(result string) {
	assetStabilizeTotal.WithLabelValues(norm(result)).Inc()
}
