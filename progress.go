package dumpload

import "context"

// ReportInterval controls how often progress is reported, measured in scanned
// lines. Implement it on the Sink to set the cadence from the collaborator
// rather than the builder.
//
// The value can be overridden at runtime via WithReportInterval, which takes
// precedence over this interface. If neither is set, DefaultReportInterval
// (10,000 lines) is used.
//
// Example:
//
//	func (s *MySink) ReportInterval() int { return 50000 }
type ReportInterval interface {
	// ReportInterval returns how often to report progress (in scanned lines).
	ReportInterval() int
}

// ProgressReporter receives periodic progress updates while a dump streams.
// The pipeline always logs a progress line at the report interval; implement
// this interface for anything beyond that, such as pushing throughput to a
// dashboard.
//
// OnProgress runs on the reading goroutine each time the scanned count
// reaches a multiple of the report interval. The Stats value is safe to read
// concurrently. Avoid blocking I/O inside OnProgress since it stalls reading.
//
// Example:
//
//	func (j *MyReporter) OnProgress(ctx context.Context, stats *dumpload.Stats) {
//	    slog.InfoContext(ctx, "progress",
//	        "scanned", stats.Scanned(),
//	        "kept", stats.Kept(),
//	        "delivered", stats.BatchesDelivered(),
//	    )
//	}
type ProgressReporter interface {
	OnProgress(ctx context.Context, stats *Stats)
}
