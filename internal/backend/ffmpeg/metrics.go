package ffmpeg

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for invocation results.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stillreel_ffmpeg_load_seconds",
			Help:    "Duration of engine load (artifact resolution and workspace setup), in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	execDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stillreel_ffmpeg_exec_seconds",
			Help:    "Wall-clock duration of ffmpeg invocations, in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	execsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stillreel_ffmpeg_execs_total",
			Help: "Total number of ffmpeg invocations by result.",
		},
		[]string{"result"},
	)

	artifactDownloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stillreel_ffmpeg_artifact_downloads_total",
			Help: "Total number of engine artifact downloads.",
		},
	)
)

func init() {
	prometheus.MustRegister(loadDuration)
	prometheus.MustRegister(execDuration)
	prometheus.MustRegister(execsTotal)
	prometheus.MustRegister(artifactDownloadsTotal)

	execsTotal.WithLabelValues(resultSuccess)
	execsTotal.WithLabelValues(resultFailure)
}
