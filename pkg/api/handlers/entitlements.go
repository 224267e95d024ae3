package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/greenofig/greenofig/pkg/api/errors"
	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/entitlements"
	"github.com/greenofig/greenofig/pkg/middleware"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/labstack/echo/v4"
)

// ResolverSource builds a user's entitlement resolver
type ResolverSource interface {
	ResolverFor(ctx context.Context, userID string) *entitlements.Resolver
}

// EntitlementsHandler exposes the caller's feature entitlements
type EntitlementsHandler struct {
	resolvers ResolverSource
	validator *validator.Validate
}

// NewEntitlementsHandler creates a new entitlements handler
func NewEntitlementsHandler(resolvers ResolverSource) *EntitlementsHandler {
	return &EntitlementsHandler{
		resolvers: resolvers,
		validator: validator.New(),
	}
}

// GetEntitlements godoc
// @Summary Current entitlements
// @Description Effective plan and feature map for the authenticated user
// @Tags entitlements
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.EntitlementsResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /entitlements [get]
func (h *EntitlementsHandler) GetEntitlements(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	r := h.resolvers.ResolverFor(c.Request().Context(), userID)

	features := make(map[string]any, len(entitlements.AllFeatures()))
	for f, v := range r.Features() {
		features[string(f)] = v
	}

	return c.JSON(http.StatusOK, models.EntitlementsResponse{
		UserID:     userID,
		Tier:       string(r.Tier()),
		Plan:       string(r.PlanKey()),
		Status:     r.Status(),
		Downgraded: r.Downgraded(),
		HasAds:     r.HasAds(),
		Features:   features,
	})
}

type featureUsageRequest struct {
	Usage int `validate:"gte=0"`
}

// GetFeature godoc
// @Summary Check one feature
// @Description Access and remaining quota for a feature given the caller's current usage
// @Tags entitlements
// @Produce json
// @Security BearerAuth
// @Param feature path string true "Feature name, e.g. aiChatMessages"
// @Param usage query int false "Current usage in the quota period"
// @Success 200 {object} models.FeatureUsageResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /entitlements/{feature} [get]
func (h *EntitlementsHandler) GetFeature(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	feature, ok := entitlements.ParseFeature(c.Param("feature"))
	if !ok {
		return apierrors.FromDomain(c, domain.NewNotFoundError("feature"))
	}

	var req featureUsageRequest
	if err := echo.QueryParamsBinder(c).Int("usage", &req.Usage).BindError(); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	r := h.resolvers.ResolverFor(c.Request().Context(), userID)
	remaining := r.RemainingUsage(feature, req.Usage)

	return c.JSON(http.StatusOK, models.FeatureUsageResponse{
		Feature:   string(feature),
		Usage:     req.Usage,
		HasAccess: r.HasAccess(feature),
		CanUse:    r.CanUse(feature, req.Usage),
		Remaining: remaining,
		Unlimited: remaining == entitlements.UnlimitedUsage,
	})
}
