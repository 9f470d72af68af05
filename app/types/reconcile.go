package types

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	DefaultMinAgeMinutes = int32(120)
	DefaultMaxAgeMinutes = int32(360)
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CancelAbandonedPaymentsRequest struct {
	MinAgeMinutes int32 `json:"min_age_minutes"`
	MaxAgeMinutes int32 `json:"max_age_minutes"`
	DryRun        bool  `json:"dry_run"`
}

func NewCancelAbandonedPaymentsRequestFromContext(ctx echo.Context) (*CancelAbandonedPaymentsRequest, error) {
	// Fields absent from the body keep their defaults; an explicit 0 is kept.
	body := CancelAbandonedPaymentsRequest{
		MinAgeMinutes: DefaultMinAgeMinutes,
		MaxAgeMinutes: DefaultMaxAgeMinutes,
	}
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&body); err != nil {
			return nil, err
		}
	}

	return &body, nil
}

func (r *CancelAbandonedPaymentsRequest) Validate() error {
	if r.MinAgeMinutes < 0 {
		return errors.New("min_age_minutes must be >= 0")
	}
	if r.MaxAgeMinutes <= r.MinAgeMinutes {
		return errors.New("max_age_minutes must be greater than min_age_minutes")
	}
	return nil
}

func (r *CancelAbandonedPaymentsRequest) MinAge() time.Duration {
	return time.Duration(r.MinAgeMinutes) * time.Minute
}

func (r *CancelAbandonedPaymentsRequest) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeMinutes) * time.Minute
}

type PurgeCacheTagRequest struct {
	Tag string
}

func NewPurgeCacheTagRequestFromContext(ctx echo.Context) (*PurgeCacheTagRequest, error) {
	return &PurgeCacheTagRequest{Tag: strings.TrimSpace(ctx.Param("tag"))}, nil
}

func (r *PurgeCacheTagRequest) Validate() error {
	if r.Tag == "" {
		return errors.New("tag is required")
	}
	return nil
}

type OrderResult struct {
	IncrementID string `json:"increment_id"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
}

type IntentResult struct {
	Tenant   string        `json:"tenant"`
	IntentID string        `json:"intent_id"`
	Kind     string        `json:"kind"`
	Outcome  string        `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Orders   []OrderResult `json:"orders,omitempty"`
}

type TenantError struct {
	Tenant string `json:"tenant"`
	Error  string `json:"error"`
}

type SweepReport struct {
	RunID           string         `json:"run_id"`
	From            string         `json:"from"`
	To              string         `json:"to"`
	OffsetSeconds   int64          `json:"offset_seconds"`
	DryRun          bool           `json:"dry_run"`
	Scanned         int            `json:"scanned"`
	Kept            int            `json:"kept"`
	Abandoned       int            `json:"abandoned"`
	Canceled        int            `json:"canceled"`
	ExpiredSessions int            `json:"expired_sessions"`
	Skipped         int            `json:"skipped"`
	Failed          int            `json:"failed"`
	OrdersCanceled  int            `json:"orders_canceled"`
	OrdersFailed    int            `json:"orders_failed"`
	Results         []IntentResult `json:"results"`
	TenantErrors    []TenantError  `json:"tenant_errors,omitempty"`
}

type SweepReportResponse struct {
	Report *SweepReport `json:"report"`
}

type ClockOffsetResponse struct {
	OffsetSeconds int64 `json:"offset_seconds"`
}

type PurgeCacheTagResponse struct {
	Tag     string `json:"tag"`
	Removed int64  `json:"removed"`
}
