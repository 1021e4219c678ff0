package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeliveriesHandler lists outbound deliveries for operators
type DeliveriesHandler struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewDeliveriesHandler(db *gorm.DB, logger *zap.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{
		DB:     db,
		Logger: logger,
	}
}

// DeliveriesResponse represents the response structure for GET /deliveries
type DeliveriesResponse struct {
	Deliveries []DeliveryDTO `json:"deliveries"`
	HasMore    bool          `json:"has_more"`
}

// DeliveryDTO represents a single outbound delivery in the response
type DeliveryDTO struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	HTTPStatus    *int    `json:"http_status"` // latest attempt, if any
	TargetURL     string  `json:"target_url"`
	AttemptCount  int     `json:"attempt_count"`
	NextAttemptAt *string `json:"next_attempt_at"`
	Timestamp     string  `json:"timestamp"` // UTC ISO 8601
}

// GetDeliveries handles GET /deliveries
// Query parameters:
//   - status (optional): filter by delivery status
//   - limit (optional, default 25): number of deliveries to return
//   - offset (optional, default 0): number of deliveries to skip
func (h *DeliveriesHandler) GetDeliveries(c *fiber.Ctx) error {
	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsedLimit
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err != nil || parsedOffset < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsedOffset
	}

	type deliveryRow struct {
		ID            uuid.UUID
		TargetURL     string
		Status        string
		AttemptCount  int
		NextAttemptAt *time.Time
		CreatedAt     time.Time
		HTTPStatus    *int
	}

	var rows []deliveryRow

	query := h.DB.Table("outbound_deliveries").
		Select("id, target_url, status, attempt_count, next_attempt_at, created_at").
		Order("created_at DESC").
		Limit(limit + 1). // Fetch one extra to determine has_more
		Offset(offset)

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Scan(&rows).Error; err != nil {
		h.Logger.Error("Failed to query outbound deliveries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch deliveries",
		})
	}

	if len(rows) == 0 {
		return c.JSON(DeliveriesResponse{Deliveries: []DeliveryDTO{}, HasMore: false})
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	deliveryIDs := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		deliveryIDs[i] = row.ID
	}

	// Latest attempt per delivery: max attempt_no via subquery, then join to
	// pick up its http_status.
	type attemptLogRow struct {
		OutboundDeliveryID uuid.UUID
		HTTPStatus         *int
	}

	var attemptLogs []attemptLogRow

	subquery := h.DB.Table("delivery_attempt_log").
		Select("outbound_delivery_id, MAX(attempt_no) as max_attempt").
		Where("outbound_delivery_id IN ?", deliveryIDs).
		Group("outbound_delivery_id")

	if err := h.DB.Table("delivery_attempt_log AS dal").
		Select("dal.outbound_delivery_id, dal.http_status").
		Joins("INNER JOIN (?) AS latest ON dal.outbound_delivery_id = latest.outbound_delivery_id AND dal.attempt_no = latest.max_attempt", subquery).
		Scan(&attemptLogs).Error; err != nil {
		// Continue without HTTP status rather than failing the listing
		h.Logger.Warn("Failed to fetch attempt logs, continuing without HTTP status",
			zap.Error(err),
		)
	}

	httpStatusMap := make(map[uuid.UUID]*int)
	for _, log := range attemptLogs {
		httpStatusMap[log.OutboundDeliveryID] = log.HTTPStatus
	}

	dtos := make([]DeliveryDTO, 0, len(rows))
	for _, row := range rows {
		var nextAt *string
		if row.NextAttemptAt != nil {
			s := row.NextAttemptAt.UTC().Format(time.RFC3339)
			nextAt = &s
		}

		dtos = append(dtos, DeliveryDTO{
			ID:            row.ID.String(),
			Status:        row.Status,
			HTTPStatus:    httpStatusMap[row.ID],
			TargetURL:     row.TargetURL,
			AttemptCount:  row.AttemptCount,
			NextAttemptAt: nextAt,
			Timestamp:     row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(DeliveriesResponse{Deliveries: dtos, HasMore: hasMore})
}
