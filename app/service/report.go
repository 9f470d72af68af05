package service

import (
	"fmt"
	"io"
	"sync"
	"time"
)

type IntentKind string

const (
	IntentKindPayment IntentKind = "payment_intent"
	IntentKindSetup   IntentKind = "setup_intent"
)

type Outcome string

const (
	OutcomeKept           Outcome = "kept"
	OutcomeWouldCancel    Outcome = "would_cancel"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeExpiredSession Outcome = "expired_session"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeFailed         Outcome = "failed"
)

type OrderResult struct {
	IncrementID string
	Outcome     Outcome
	Reason      string
}

type IntentResult struct {
	Tenant   string
	IntentID string
	Kind     IntentKind
	Outcome  Outcome
	Reason   string
	Orders   []OrderResult
}

type TenantError struct {
	Tenant string
	Error  string
}

// BatchReport aggregates one sweep. Kept intents are only counted.
type BatchReport struct {
	RunID  string
	From   time.Time
	To     time.Time
	Offset int64
	DryRun bool

	Scanned         int
	Kept            int
	Abandoned       int
	Canceled        int
	ExpiredSessions int
	Skipped         int
	Failed          int
	OrdersCanceled  int
	OrdersFailed    int

	Results      []IntentResult
	TenantErrors []TenantError
}

func (r *BatchReport) record(result IntentResult) {
	r.Scanned++
	if result.Outcome == OutcomeKept {
		r.Kept++
		return
	}

	r.Abandoned++
	switch result.Outcome {
	case OutcomeCanceled:
		r.Canceled++
	case OutcomeExpiredSession:
		r.ExpiredSessions++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	for _, order := range result.Orders {
		switch order.Outcome {
		case OutcomeCanceled:
			r.OrdersCanceled++
		case OutcomeFailed:
			r.OrdersFailed++
		}
	}
	r.Results = append(r.Results, result)
}

func (r *BatchReport) recordTenantError(tenant string, err error) {
	r.TenantErrors = append(r.TenantErrors, TenantError{Tenant: tenant, Error: err.Error()})
}

func (r *BatchReport) merge(other *BatchReport) {
	if other == nil {
		return
	}
	r.Scanned += other.Scanned
	r.Kept += other.Kept
	r.Abandoned += other.Abandoned
	r.Canceled += other.Canceled
	r.ExpiredSessions += other.ExpiredSessions
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.OrdersCanceled += other.OrdersCanceled
	r.OrdersFailed += other.OrdersFailed
	r.Results = append(r.Results, other.Results...)
	r.TenantErrors = append(r.TenantErrors, other.TenantErrors...)
}

// OutputSink receives one human readable line per cancellation attempt and
// per failure.
type OutputSink interface {
	Info(msg string)
	Error(msg string)
}

type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Info(msg string) {
	s.write("info", msg)
}

func (s *WriterSink) Error(msg string) {
	s.write("error", msg)
}

func (s *WriterSink) write(level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, "[%s] %s\n", level, msg)
}

type nopSink struct{}

func (nopSink) Info(string)  {}
func (nopSink) Error(string) {}

func sinkOrNop(sink OutputSink) OutputSink {
	if sink == nil {
		return nopSink{}
	}
	return sink
}
