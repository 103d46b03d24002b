package handler

import (
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/config"
	"github.com/shiftcal/ota-server/internal/events"
	"github.com/shiftcal/ota-server/internal/logic"
	"github.com/shiftcal/ota-server/internal/metrics"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/protocol"
	"github.com/shiftcal/ota-server/internal/signer"
)

type ManifestHandler struct {
	logger   *zap.Logger
	manifest *logic.ManifestLogic
	signer   *signer.Signer
	recorder *events.Recorder
}

func NewManifestHandler(
	logger *zap.Logger,
	manifest *logic.ManifestLogic,
	signer *signer.Signer,
	recorder *events.Recorder,
) *ManifestHandler {
	return &ManifestHandler{
		logger:   logger,
		manifest: manifest,
		signer:   signer,
		recorder: recorder,
	}
}

func (h *ManifestHandler) Register(r fiber.Router) {
	r.Get("/api/manifest", h.GetManifest)
}

// GetManifest is the update check endpoint. Expo clients send their
// identity in headers and receive either 204 (already current) or the
// newest manifest for their (platform, runtimeVersion, channel) tuple.
func (h *ManifestHandler) GetManifest(c *fiber.Ctx) error {
	uctx := protocol.ParseUpdateContext(func(key string) string { return c.Get(key) })

	if uctx.ProtocolVersion != "" && uctx.ProtocolVersion != protocol.ProtocolVersion {
		return h.errorJSON(c, fiber.StatusNotAcceptable, "unsupported protocol version")
	}

	// Required headers are validated before content negotiation.
	if !uctx.ExpectSignatureValid {
		return h.errorJSON(c, fiber.StatusBadRequest, "invalid expo-expect-signature header")
	}
	if uctx.Platform == "" {
		return h.errorJSON(c, fiber.StatusBadRequest, "expo-platform header is required")
	}
	if uctx.RuntimeVersion == "" {
		return h.errorJSON(c, fiber.StatusBadRequest, "expo-runtime-version header is required")
	}
	if !model.SupportedPlatform(uctx.Platform) {
		return h.errorJSON(c, fiber.StatusNotAcceptable, "unsupported platform")
	}

	contentType := protocol.NegotiateManifestContentType(c.Get(fiber.HeaderAccept))
	if contentType == "" {
		return h.errorJSON(c, fiber.StatusNotAcceptable, "no acceptable manifest content type")
	}

	h.recordEvent(model.EventUpdateCheck, uctx, "", nil)

	update, err := h.manifest.ResolveLatestUpdate(c.Context(), model.ResolveParam{
		Platform:        uctx.Platform,
		RuntimeVersion:  uctx.RuntimeVersion,
		Channel:         uctx.Channel,
		CurrentUpdateID: uctx.CurrentUpdateID,
		Origin:          h.origin(c),
	})
	if err != nil {
		h.logger.Error("manifest resolution failed", zap.Error(err))
		metrics.ManifestRequests.WithLabelValues("error").Inc()
		return h.errorJSON(c, fiber.StatusInternalServerError, "failed to resolve update")
	}

	h.applyProtocolHeaders(c, uctx.Channel)

	if update == nil {
		metrics.ManifestRequests.WithLabelValues("no_update").Inc()
		h.recordEvent(model.EventUpdateNone, uctx, "", nil)
		return c.SendStatus(fiber.StatusNoContent)
	}

	body, err := sonic.Marshal(update.Manifest)
	if err != nil {
		h.logger.Error("manifest serialization failed", zap.Error(err))
		metrics.ManifestRequests.WithLabelValues("error").Inc()
		return h.errorJSON(c, fiber.StatusInternalServerError, "failed to serialize manifest")
	}

	shouldSign := uctx.ExpectSignatureHeader != ""
	signature, err := h.signer.MaybeSign(body, shouldSign,
		uctx.ExpectSignature.GetString("keyid"),
		uctx.ExpectSignature.GetString("alg"),
	)
	if err != nil {
		metrics.ManifestRequests.WithLabelValues("error").Inc()
		switch {
		case errors.Is(err, signer.ErrMissingPrivateKey):
			h.logger.Error("signing requested without a configured key")
			return h.errorJSON(c, fiber.StatusInternalServerError, "code signing is not configured")
		case errors.Is(err, signer.ErrKeyIDMismatch), errors.Is(err, signer.ErrAlgorithmMismatch):
			return h.errorJSON(c, fiber.StatusNotAcceptable, "signature parameters do not match server configuration")
		default:
			h.logger.Error("manifest signing failed", zap.Error(err))
			return h.errorJSON(c, fiber.StatusInternalServerError, "failed to sign manifest")
		}
	}
	if signature != "" {
		c.Set(protocol.HeaderSignature, signature)
	}

	metrics.ManifestRequests.WithLabelValues("served").Inc()
	h.recordEvent(model.EventUpdateServed, uctx, update.ID, nil)

	c.Set(fiber.HeaderContentType, contentType)
	return c.Status(fiber.StatusOK).Send(body)
}

func (h *ManifestHandler) applyProtocolHeaders(c *fiber.Ctx, channel string) {
	protocol.ApplyResponseHeaders(c.Set, protocol.ResponseHeaderOptions{
		ManifestFilters: map[string]string{"channel": channel},
	})
}

func (h *ManifestHandler) errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// origin is the absolute base asset URLs are resolved against. A
// configured base URL wins over the request's own scheme and host.
func (h *ManifestHandler) origin(c *fiber.Ctx) string {
	if base := config.CFG.Server.BaseURL; base != "" {
		return base
	}
	return c.BaseURL()
}

func (h *ManifestHandler) recordEvent(eventType string, uctx protocol.UpdateContext, updateID string, details map[string]any) {
	h.recorder.Record(&model.Event{
		EventType:      eventType,
		Platform:       uctx.Platform,
		RuntimeVersion: uctx.RuntimeVersion,
		Channel:        uctx.Channel,
		AppVersion:     uctx.AppVersion,
		DeviceID:       uctx.DeviceID,
		OSName:         uctx.OSName,
		OSVersion:      uctx.OSVersion,
		DeviceModel:    uctx.DeviceModel,
		UpdateID:       updateID,
		Details:        details,
	})
}
