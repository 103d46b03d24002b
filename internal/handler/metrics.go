package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shiftcal/ota-server/internal/metrics"
)

type MetricsHandler struct {
}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func (h *MetricsHandler) Register(r fiber.Router) {
	metrics.NewMetrics(r)
}
