package payloadcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repolens_payload_cache_stored_total",
		Help: "Number of payloads persisted to the content cache.",
	})

	truncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repolens_payload_cache_truncations_total",
		Help: "Number of responses truncated because they exceeded the preview size.",
	})

	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repolens_payload_cache_swept_rows_total",
		Help: "Number of expired payload rows removed by the TTL sweep.",
	})
)
