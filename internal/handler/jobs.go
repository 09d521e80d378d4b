package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/resobot/api/internal/job"
	"github.com/resobot/api/pkg/response"
)

type JobHandler struct {
	coord *job.Coordinator
}

func NewJobHandler(coord *job.Coordinator) *JobHandler {
	return &JobHandler{coord: coord}
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	jb, ok := h.coord.Job(jobID)
	if !ok {
		return response.NotFound(c, "Job not found")
	}

	return response.OK(c, jb)
}
