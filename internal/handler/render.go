package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/animastudio/render-api/internal/job"
	"github.com/animastudio/render-api/internal/model"
	"github.com/animastudio/render-api/pkg/response"
)

type RenderHandler struct {
	orchestrator *job.Orchestrator
	validator    *validator.Validate
}

func NewRenderHandler(o *job.Orchestrator, v *validator.Validate) *RenderHandler {
	return &RenderHandler{
		orchestrator: o,
		validator:    v,
	}
}

// Create handles POST /api/renders
func (h *RenderHandler) Create(c *fiber.Ctx) error {
	var req model.RenderCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	quality := model.Quality(req.Quality)
	if req.Quality == "" {
		quality = model.QualityHigh
	}

	created, err := h.orchestrator.Create(req.TemplateID, quality)
	if err != nil {
		var jobErr *job.Error
		if errors.As(err, &jobErr) {
			switch jobErr.Code {
			case job.CodeRenderInProgress:
				return response.Conflict(c, jobErr.Code, jobErr.Message)
			case job.CodeInvalidTemplateID, job.CodeInvalidQuality:
				return response.Error(c, fiber.StatusBadRequest, jobErr.Code, jobErr.Message, nil)
			}
		}
		return response.Error(c, fiber.StatusInternalServerError, response.CodeCreateRenderError, "Failed to create render job.", err.Error())
	}

	return response.Created(c, model.RenderJobResponse{Job: created})
}

// Get handles GET /api/renders/:id
func (h *RenderHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	j := h.orchestrator.Get(id)
	if j == nil {
		return response.NotFound(c, response.CodeRenderNotFound, "Render job not found.")
	}

	return response.OK(c, model.RenderJobResponse{Job: j})
}

// Cancel handles DELETE /api/renders/:id
func (h *RenderHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")

	j := h.orchestrator.Cancel(id)
	if j == nil {
		return response.NotFound(c, response.CodeRenderNotFound, "Render job not found.")
	}

	return response.OK(c, model.RenderJobResponse{Job: j})
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
