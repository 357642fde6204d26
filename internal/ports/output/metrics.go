package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncWindowRead increments the windowed-read counter.
	IncWindowRead(variable string, success bool)

	// ObserveReadDuration records one windowed read's duration.
	ObserveReadDuration(variable string, duration time.Duration)

	// IncTaskOutcome increments the per-task outcome counter for
	// persist operations (written, skipped, missing, failed).
	IncTaskOutcome(variable, outcome string)

	// ObserveTransferBytes records bytes moved from the archive.
	ObserveTransferBytes(operation string, n int64)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncWindowRead implements MetricsCollector.
func (n *NoOpMetrics) IncWindowRead(_ string, _ bool) {}

// ObserveReadDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveReadDuration(_ string, _ time.Duration) {}

// IncTaskOutcome implements MetricsCollector.
func (n *NoOpMetrics) IncTaskOutcome(_, _ string) {}

// ObserveTransferBytes implements MetricsCollector.
func (n *NoOpMetrics) ObserveTransferBytes(_ string, _ int64) {}
