package handlers

import (
	"demark/errors"
	"demark/models"
	"demark/services/removal"

	"github.com/gofiber/fiber/v2"
)

type JobHandler struct {
	service removal.Service
}

func NewJobHandler(service removal.Service) *JobHandler {
	return &JobHandler{service: service}
}

// SubmitBatch accepts a multipart form with repeated "files" parts and an
// optional "api_key" override, and enqueues one job per file.
func (h *JobHandler) SubmitBatch(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return &errors.AppError{
			Code:    fiber.StatusBadRequest,
			Message: "A multipart form is required",
			Err:     err,
		}
	}

	files := form.File["files"]
	apiKey := c.FormValue("api_key")

	jobs, err := h.service.SubmitBatch(c.Context(), files, apiKey)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data":    models.NewBatchResponse(jobs),
	})
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return &errors.AppError{
			Code:    fiber.StatusBadRequest,
			Message: "ID is required",
		}
	}

	job, err := h.service.GetJob(c.Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    models.NewJobResponse(job),
	})
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	jobs, err := h.service.ListJobs(c.Context())
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    models.NewBatchResponse(jobs),
	})
}

// DownloadResult streams the processed file once the job has completed.
func (h *JobHandler) DownloadResult(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return &errors.AppError{
			Code:    fiber.StatusBadRequest,
			Message: "ID is required",
		}
	}

	job, err := h.service.GetJob(c.Context(), id)
	if err != nil {
		return err
	}
	if !job.IsCompleted() || job.OutputPath == "" {
		return &errors.AppError{
			Code:    fiber.StatusConflict,
			Message: "Job has not completed yet",
		}
	}

	return c.Download(job.OutputPath, job.Filename)
}

func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return &errors.AppError{
			Code:    fiber.StatusBadRequest,
			Message: "ID is required",
		}
	}

	if err := h.service.Cancel(c.Context(), id); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}
