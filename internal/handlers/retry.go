package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/scheduler"
)

// RetryHandler exposes the manual retry trigger. It runs exactly one
// scheduler pass synchronously and returns the pass summary; it never loops
// or waits for future retries.
type RetryHandler struct {
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

func NewRetryHandler(s *scheduler.Scheduler, logger *zap.Logger) *RetryHandler {
	return &RetryHandler{
		Scheduler: s,
		Logger:    logger,
	}
}

// RunRetryPass handles POST /api/v1/retries/run
func (h *RetryHandler) RunRetryPass(c *fiber.Ctx) error {
	summary, err := h.Scheduler.RunPass(c.Context(), scheduler.MaxBatchSize)
	if err != nil {
		h.Logger.Error("Manual retry pass failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run retry pass",
		})
	}

	return c.JSON(fiber.Map{
		"results": summary,
	})
}
