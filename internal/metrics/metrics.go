package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ManifestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ota",
		Name:      "manifest_requests_total",
		Help:      "Manifest check requests by result.",
	}, []string{"result"})

	AssetDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ota",
		Name:      "asset_deliveries_total",
		Help:      "Asset requests by delivery outcome.",
	}, []string{"outcome"})

	PatchBytesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ota",
		Name:      "patch_bytes_saved_total",
		Help:      "Bytes saved by serving patches instead of full assets.",
	})

	PublishedUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ota",
		Name:      "published_updates_total",
		Help:      "Updates published by platform.",
	}, []string{"platform"})
)

func NewMetrics(r fiber.Router) {
	handler := adaptor.HTTPHandler(promhttp.Handler())
	r.All("/metrics", handler)
}
