package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/greenofig/greenofig/pkg/api/errors"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/labstack/echo/v4"
)

const defaultWebhookEventLimit = 50

// WebhookLedger reads the webhook idempotency ledger
type WebhookLedger interface {
	ListWebhookEvents(ctx context.Context, status string, limit int) ([]models.WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
}

// WebhookEventsHandler is the operator view of processed deliveries
type WebhookEventsHandler struct {
	ledger    WebhookLedger
	validator *validator.Validate
}

// NewWebhookEventsHandler creates a new webhook events handler
func NewWebhookEventsHandler(ledger WebhookLedger) *WebhookEventsHandler {
	return &WebhookEventsHandler{
		ledger:    ledger,
		validator: validator.New(),
	}
}

type listWebhookEventsRequest struct {
	Status string `validate:"omitempty,oneof=pending processed failed"`
	Limit  int    `validate:"gte=1,lte=200"`
}

// ListWebhookEvents godoc
// @Summary List webhook events
// @Description Newest ledger rows first, optionally filtered by status
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, processed or failed"
// @Param limit query int false "Max rows (1-200, default 50)"
// @Success 200 {object} models.WebhookEventListResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /admin/webhook-events [get]
func (h *WebhookEventsHandler) ListWebhookEvents(c echo.Context) error {
	req := listWebhookEventsRequest{Limit: defaultWebhookEventLimit}
	err := echo.QueryParamsBinder(c).
		String("status", &req.Status).
		Int("limit", &req.Limit).
		BindError()
	if err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	events, err := h.ledger.ListWebhookEvents(c.Request().Context(), req.Status, req.Limit)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, models.WebhookEventListResponse{
		Events: events,
		Count:  len(events),
	})
}

// GetWebhookEvent godoc
// @Summary Get webhook event
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param event_id path string true "Stripe event id"
// @Success 200 {object} models.WebhookEvent
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/webhook-events/{event_id} [get]
func (h *WebhookEventsHandler) GetWebhookEvent(c echo.Context) error {
	event, err := h.ledger.GetWebhookEvent(c.Request().Context(), c.Param("event_id"))
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, event)
}
