package handlers

import (
	"context"
	"io"
	"net/http"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/greenofig/greenofig/pkg/billing"
	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/labstack/echo/v4"
)

// maxWebhookBodyBytes caps a single delivery; Stripe events are far smaller
const maxWebhookBodyBytes = 1 << 20

// EventProcessor handles one verified webhook delivery
type EventProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (billing.Outcome, error)
}

// WebhookHandler receives payment provider webhooks
type WebhookHandler struct {
	processor EventProcessor
	logger    logger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor EventProcessor, log logger.Logger) *WebhookHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &WebhookHandler{
		processor: processor,
		logger:    log.With("handler", "webhook"),
	}
}

// HandleStripeWebhook godoc
// @Summary Stripe webhook
// @Description Receives signed Stripe events. The raw body is verified against the Stripe-Signature header.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe signature"
// @Success 200 {object} models.WebhookAckResponse
// @Failure 400 {string} string "Signature verification failed"
// @Failure 500 {object} models.ErrorResponse
// @Router /webhook/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes+1))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "error", err)
		return c.String(http.StatusBadRequest, "Error reading request body")
	}
	if len(body) > maxWebhookBodyBytes {
		return c.String(http.StatusRequestEntityTooLarge, "Request body too large")
	}

	signature := c.Request().Header.Get("Stripe-Signature")

	outcome, err := h.processor.Process(c.Request().Context(), body, signature)
	if err != nil {
		if domain.IsInvalidSignature(err) {
			return c.String(http.StatusBadRequest, "Webhook signature verification failed")
		}

		if hub := sentryecho.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "webhook processing failed",
		})
	}

	c.Response().Header().Set("X-Webhook-Outcome", string(outcome))
	return c.JSON(http.StatusOK, models.WebhookAckResponse{Received: true})
}
