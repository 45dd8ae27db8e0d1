package core

import (
	"context"
	"time"

	"taskledger/pkg/domain"
)

// Logger is the structured logging seam used by the engine. Arguments are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Lock wait outcomes reported to MetricsRecorder.ObserveLockWait.
const (
	LockOutcomeGranted  = "granted"
	LockOutcomeDeadlock = "deadlock"
	LockOutcomeTimeout  = "timeout"
	LockOutcomeCanceled = "canceled"
)

// Transaction outcomes reported to MetricsRecorder.ObserveTransaction.
const (
	TxOutcomeCommitted = "committed"
	TxOutcomeRejected  = "rejected"
	TxOutcomeAborted   = "aborted"
	TxOutcomeFailed    = "failed"
)

// MetricsRecorder receives engine counters and latencies.
type MetricsRecorder interface {
	ObserveLockWait(entity domain.EntityType, outcome string, wait time.Duration)
	ObserveTransaction(outcome string, duration time.Duration)
	IncRuleRejection(rule string)
	IncAuditAppend(entity domain.EntityType)
	IncFollowUpFailure(hook string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveLockWait(domain.EntityType, string, time.Duration) {}
func (noopMetrics) ObserveTransaction(string, time.Duration)                 {}
func (noopMetrics) IncRuleRejection(string)                                  {}
func (noopMetrics) IncAuditAppend(domain.EntityType)                         {}
func (noopMetrics) IncFollowUpFailure(string)                                {}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around transaction commits.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

func systemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}
