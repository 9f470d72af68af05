package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/factory"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/mapper"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/service"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/types"
)

type reconcileService interface {
	CancelAbandonedPayments(ctx context.Context, opts service.SweepOptions) (*service.BatchReport, error)
	RefreshOffsetIfNeeded(ctx context.Context) error
	CurrentOffset(ctx context.Context) int64
}

type tagPurger interface {
	PurgeTag(ctx context.Context, tag string) (int64, error)
}

type ReconcileController struct {
	reconcileService reconcileService
	cache            tagPurger
	logger           logrus.FieldLogger
}

func NewReconcileController(reconcileService reconcileService, cache tagPurger) *ReconcileController {
	return &ReconcileController{
		reconcileService: reconcileService,
		cache:            cache,
		logger:           factory.NewModuleLogger("reconcile-controller"),
	}
}

func (c *ReconcileController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *ReconcileController) CancelAbandonedPayments(ctx echo.Context) error {
	req, err := types.NewCancelAbandonedPaymentsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	minAge, maxAge := req.MinAge(), req.MaxAge()
	report, err := c.reconcileService.CancelAbandonedPayments(ctx.Request().Context(), service.SweepOptions{
		MinAge: &minAge,
		MaxAge: &maxAge,
		DryRun: req.DryRun,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidWindow) {
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Abandoned payment sweep failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.SweepReportResponse{Report: mapper.ReportToResponse(report)})
}

func (c *ReconcileController) GetClockOffset(ctx echo.Context) error {
	offset := c.reconcileService.CurrentOffset(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, &types.ClockOffsetResponse{OffsetSeconds: offset})
}

func (c *ReconcileController) RefreshClockOffset(ctx echo.Context) error {
	if err := c.reconcileService.RefreshOffsetIfNeeded(ctx.Request().Context()); err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Clock offset refresh failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	offset := c.reconcileService.CurrentOffset(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, &types.ClockOffsetResponse{OffsetSeconds: offset})
}

func (c *ReconcileController) PurgeCacheTag(ctx echo.Context) error {
	req, err := types.NewPurgeCacheTagRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	removed, err := c.cache.PurgeTag(ctx.Request().Context(), req.Tag)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Cache purge failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.PurgeCacheTagResponse{Tag: req.Tag, Removed: removed})
}

func (c *ReconcileController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
