package prometheus

import "github.com/prometheus/client_golang/prometheus"

// registry is private so stray libraries cannot register collectors into
// the /metrics output; everything exported here is registered in init.
var registry = prometheus.NewRegistry()

func GetRegistry() *prometheus.Registry {
	return registry
}

var (
	// MessagesProcessed counts fetched messages by session and outcome
	// (downloaded / failed / text).
	MessagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferry_messages_processed_total",
		Help: "Messages processed by the fetchers, per session and result.",
	}, []string{"session", "result"})

	// BytesDownloaded counts media bytes written by the fetchers.
	BytesDownloaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferry_bytes_downloaded_total",
		Help: "Media bytes downloaded, per session.",
	}, []string{"session"})

	// Uploads counts upload calls by kind (single / album / text) and result.
	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferry_uploads_total",
		Help: "Upload operations against the target channel, per kind and result.",
	}, []string{"kind", "result"})

	// FloodWaits counts rate-limit hits per session.
	FloodWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferry_flood_waits_total",
		Help: "Rate-limit responses observed, per session.",
	}, []string{"session"})

	// FloodWaitSeconds accumulates total seconds spent waiting out rate limits.
	FloodWaitSeconds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ferry_flood_wait_seconds_total",
		Help: "Total seconds slept on rate-limit responses.",
	})

	// SessionsOnline tracks how many pool sessions are currently online.
	SessionsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ferry_sessions_online",
		Help: "Number of pool sessions currently online.",
	})

	// Runs counts archive runs by final status (ok / failed / canceled).
	Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferry_runs_total",
		Help: "Archive runs, per final status.",
	}, []string{"status"})
)

func init() {
	registry.MustRegister(
		MessagesProcessed,
		BytesDownloaded,
		Uploads,
		FloodWaits,
		FloodWaitSeconds,
		SessionsOnline,
		Runs,
	)
}
