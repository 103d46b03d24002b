package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/events"
	"github.com/shiftcal/ota-server/internal/logic"
	"github.com/shiftcal/ota-server/internal/metrics"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/protocol"
	"github.com/shiftcal/ota-server/internal/storage"
)

type AssetHandler struct {
	logger   *zap.Logger
	delivery *logic.DeliveryLogic
	disk     *storage.Storage
	recorder *events.Recorder
}

func NewAssetHandler(
	logger *zap.Logger,
	delivery *logic.DeliveryLogic,
	disk *storage.Storage,
	recorder *events.Recorder,
) *AssetHandler {
	return &AssetHandler{
		logger:   logger,
		delivery: delivery,
		disk:     disk,
		recorder: recorder,
	}
}

func (h *AssetHandler) Register(r fiber.Router) {
	r.Get("/api/assets", h.GetAsset)
}

// GetAsset serves a stored file, either in full or as a binary patch
// against the client's current launch bundle when the decision chain
// allows it. Every request terminates in exactly one delivery outcome.
func (h *AssetHandler) GetAsset(c *fiber.Ctx) error {
	fileName := c.Query("file")
	if fileName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file query parameter is required"})
	}

	path, err := h.disk.AssetPath(fileName)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "file not found"})
	}
	exists, err := h.disk.AssetExists(fileName)
	if err != nil || !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "file not found"})
	}

	decision := h.delivery.Decide(c.Context(), model.DeliveryParam{
		FileName:          fileName,
		AcceptIM:          c.Get(protocol.HeaderAcceptIM),
		CurrentUpdateID:   c.Get(protocol.HeaderCurrentUpdateID),
		RequestedUpdateID: c.Get(protocol.HeaderRequestedUpdateID),
	})

	metrics.AssetDeliveries.WithLabelValues(decision.Outcome.String()).Inc()
	h.recordDelivery(fileName, decision)

	if decision.Outcome == logic.OutcomeServed {
		metrics.PatchBytesSaved.Add(float64(decision.SavedBytes))

		if err := c.SendFile(decision.PatchPath); err != nil {
			h.logger.Error("failed to send patch", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read patch"})
		}
		c.Status(fiber.StatusIMUsed)
		c.Set(fiber.HeaderContentType, protocol.ContentTypeBsdiff)
		c.Set(fiber.HeaderCacheControl, protocol.PatchCacheControl)
		c.Set(protocol.HeaderIM, protocol.IMBsdiff)
		c.Set(protocol.HeaderBaseUpdateID, decision.BaseUpdateID)
		c.Set(fiber.HeaderVary, strings.Join(protocol.PatchVary, ", "))
		return nil
	}

	if err := c.SendFile(path); err != nil {
		h.logger.Error("failed to send asset", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read asset"})
	}
	c.Status(fiber.StatusOK)
	c.Set(fiber.HeaderContentType, protocol.ResolveContentType(fileName))
	c.Set(fiber.HeaderCacheControl, protocol.AssetCacheControl)
	c.Set(protocol.HeaderFallbackReason, decision.Outcome.String())
	c.Set(fiber.HeaderVary, strings.Join(protocol.PatchVary, ", "))
	return nil
}

func (h *AssetHandler) recordDelivery(fileName string, decision logic.DeliveryDecision) {
	eventType := model.EventAssetDownload
	if decision.Outcome == logic.OutcomeServed {
		eventType = model.EventPatchServed
	}

	details := map[string]any{
		"outcome":  decision.Outcome.String(),
		"fileName": fileName,
	}
	if decision.FullBytes > 0 {
		details["fullBytes"] = decision.FullBytes
	}
	if decision.Outcome == logic.OutcomeServed {
		details["patchBytes"] = decision.PatchBytes
		details["savedBytes"] = decision.SavedBytes
	}
	if decision.BaseUpdateID != "" {
		details["baseUpdateId"] = decision.BaseUpdateID
	}

	h.recorder.Record(&model.Event{
		EventType: eventType,
		UpdateID:  decision.RequestedUpdateID,
		Details:   details,
	})
}
