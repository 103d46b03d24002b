package handler

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/handler/response"
	"github.com/shiftcal/ota-server/internal/logic"
	"github.com/shiftcal/ota-server/internal/metrics"
	"github.com/shiftcal/ota-server/internal/model"
	"github.com/shiftcal/ota-server/internal/pkg/errs"
	"github.com/shiftcal/ota-server/internal/pkg/validator"
)

type AdminHandler struct {
	logger  *zap.Logger
	publish *logic.PublishLogic
	gc      *logic.GCLogic
}

func NewAdminHandler(
	logger *zap.Logger,
	publish *logic.PublishLogic,
	gc *logic.GCLogic,
) *AdminHandler {
	return &AdminHandler{
		logger:  logger,
		publish: publish,
		gc:      gc,
	}
}

func (h *AdminHandler) Register(r fiber.Router) {
	r.Post("/publish", h.Publish)
	r.Get("/updates", h.ListUpdates)
	r.Get("/updates/:id", h.GetUpdate)
	r.Delete("/updates/:id", h.DeleteUpdate)
}

type publishRequest struct {
	Channel        string `form:"channel" validate:"omitempty,slug"`
	RuntimeVersion string `form:"runtimeVersion" validate:"required"`
	AppVersion     string `form:"appVersion" validate:"omitempty,semverish"`
	Message        string `form:"message"`
}

// Publish ingests a multipart bundle archive and creates one update per
// platform found in its metadata.
func (h *AdminHandler) Publish(c *fiber.Ctx) error {
	var req publishRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, errs.ErrInvalidParams.Wrap(err))
	}
	if err := validator.ValidateStruct(&req); err != nil {
		return Error(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return Error(c, errs.ErrInvalidParams.WithMessage("archive file is required"))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return Error(c, errs.ErrInvalidParams.Wrap(err))
	}
	defer file.Close()
	archive, err := io.ReadAll(file)
	if err != nil {
		return Error(c, errs.NewUnexpected("failed to read archive upload", err))
	}

	published, err := h.publish.PublishUpdateArchive(c.Context(), model.PublishParam{
		Archive:        archive,
		Channel:        req.Channel,
		RuntimeVersion: req.RuntimeVersion,
		AppVersion:     req.AppVersion,
		Message:        req.Message,
	})
	if err != nil {
		h.logger.Warn("publish rejected", zap.Error(err))
		return Error(c, errs.ErrArchiveInvalid.WithMessage(err.Error()))
	}

	for _, update := range published {
		metrics.PublishedUpdates.WithLabelValues(update.Platform).Inc()
	}

	return c.Status(fiber.StatusCreated).JSON(response.Success(fiber.Map{
		"count":   len(published),
		"updates": published,
	}))
}

func (h *AdminHandler) ListUpdates(c *fiber.Ctx) error {
	updates, err := h.publish.ListUpdates(c.Context(), c.QueryInt("limit"))
	if err != nil {
		return Error(c, err)
	}
	return c.JSON(response.Success(fiber.Map{
		"count":   len(updates),
		"updates": updates,
	}))
}

func (h *AdminHandler) GetUpdate(c *fiber.Ctx) error {
	update, err := h.publish.GetUpdate(c.Context(), c.Params("id"))
	if err != nil {
		return Error(c, err)
	}
	return c.JSON(response.Success(update))
}

func (h *AdminHandler) DeleteUpdate(c *fiber.Ctx) error {
	result, err := h.gc.DeletePublishedUpdate(c.Context(), c.Params("id"))
	if err != nil {
		return Error(c, err)
	}
	return c.JSON(response.Success(result))
}
