package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP module (simplified)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telefeed",
			Subsystem: "http",
			Name:      "request_total",
			Help:      "Total number of HTTP requests by method and path",
		},
		[]string{"method", "path", "code"},
	)

	// Sync metrics
	PostsStoredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telefeed",
		Subsystem: "sync",
		Name:      "posts_stored_total",
		Help:      "Number of new posts written per channel",
	}, []string{"channel"})
	PostsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telefeed",
		Subsystem: "sync",
		Name:      "posts_skipped_total",
		Help:      "Number of already-stored messages skipped per channel",
	}, []string{"channel"})
	ChannelFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telefeed",
		Subsystem: "sync",
		Name:      "channel_failures_total",
		Help:      "Number of failed channel sync passes",
	}, []string{"channel"})
	BatchCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "telefeed",
		Subsystem: "sync",
		Name:      "batch_commits_total",
		Help:      "Number of batched store writes committed",
	})

	// Retention metrics
	PostsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "telefeed",
		Subsystem: "retention",
		Name:      "posts_expired_total",
		Help:      "Number of posts deleted by the retention policy",
	})
	MediaExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "telefeed",
		Subsystem: "retention",
		Name:      "media_expired_total",
		Help:      "Number of media objects deleted by the retention policy",
	})

	// Media metrics
	MediaUploadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "telefeed",
		Subsystem: "media",
		Name:      "uploaded_total",
		Help:      "Number of media objects stored",
	})

	// Feed rendering
	RenderDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "telefeed",
		Subsystem: "feed",
		Name:      "render_seconds",
		Help:      "Duration of feed rendering",
	})
)

// Init initializes metrics and registers collectors (idempotent).
var initOnce = new(struct{ done bool })

func Init() {
	if initOnce.done {
		return
	}
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(PostsStoredTotal)
	prometheus.MustRegister(PostsSkippedTotal)
	prometheus.MustRegister(ChannelFailuresTotal)
	prometheus.MustRegister(BatchCommitsTotal)
	prometheus.MustRegister(PostsExpiredTotal)
	prometheus.MustRegister(MediaExpiredTotal)
	prometheus.MustRegister(MediaUploadedTotal)
	prometheus.MustRegister(RenderDuration)
	initOnce.done = true
}

// Handler returns a Prometheus metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

// IncHTTP increments HTTP request counters.
func IncHTTP(method, path, code string) {
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
}
