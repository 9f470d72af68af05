package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/service"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/types"
)

func ReportToResponse(report *service.BatchReport) *types.SweepReport {
	if report == nil {
		return nil
	}

	out := &types.SweepReport{
		RunID:           report.RunID,
		From:            formatTime(report.From),
		To:              formatTime(report.To),
		OffsetSeconds:   report.Offset,
		DryRun:          report.DryRun,
		Scanned:         report.Scanned,
		Kept:            report.Kept,
		Abandoned:       report.Abandoned,
		Canceled:        report.Canceled,
		ExpiredSessions: report.ExpiredSessions,
		Skipped:         report.Skipped,
		Failed:          report.Failed,
		OrdersCanceled:  report.OrdersCanceled,
		OrdersFailed:    report.OrdersFailed,
		Results:         make([]types.IntentResult, 0, len(report.Results)),
	}

	for _, result := range report.Results {
		out.Results = append(out.Results, intentResultToResponse(result))
	}
	for _, tenantErr := range report.TenantErrors {
		out.TenantErrors = append(out.TenantErrors, types.TenantError{Tenant: tenantErr.Tenant, Error: tenantErr.Error})
	}

	return out
}

func intentResultToResponse(result service.IntentResult) types.IntentResult {
	out := types.IntentResult{
		Tenant:   result.Tenant,
		IntentID: result.IntentID,
		Kind:     string(result.Kind),
		Outcome:  string(result.Outcome),
		Reason:   result.Reason,
	}
	for _, order := range result.Orders {
		out.Orders = append(out.Orders, types.OrderResult{
			IncrementID: order.IncrementID,
			Outcome:     string(order.Outcome),
			Reason:      order.Reason,
		})
	}
	return out
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
