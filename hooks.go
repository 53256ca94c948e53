package dumpload

import "context"

// Skip describes a line that did not become part of a batch.
type Skip struct {
	// Line is the 1-based number of the non-blank line within the current
	// download pass.
	Line int64

	// Reason is ReasonMalformed for lines that were not a JSON object, or the
	// policy rule the record failed.
	Reason RejectReason

	// ID is the record's id when it decoded far enough to have one.
	ID string

	// Err is a *DecodeError for malformed lines, nil for policy rejections.
	Err error
}

// SkipHandler observes every skipped line. Skips never fail a run; malformed
// input and policy rejections are an expected part of a dump.
//
// Implement this interface when you want to:
//   - Count rejections per rule to tune the policy thresholds
//   - Sample malformed lines for diagnostics
//   - Feed a dead-letter store with the ids that were dropped
//
// OnSkip runs on the reading goroutine; blocking in it slows down the whole
// pipeline.
//
// Example:
//
//	func (o *MyObserver) OnSkip(ctx context.Context, s dumpload.Skip) {
//	    if s.Reason == dumpload.ReasonMalformed {
//	        slog.WarnContext(ctx, "malformed line", "line", s.Line, "error", s.Err)
//	    }
//	}
type SkipHandler interface {
	OnSkip(ctx context.Context, skip Skip)
}

// DeliveryObserver receives the result of each delivery attempt that did not
// end the run: retries and successes. Fatal failures are reported through the
// error returned by Run.
//
// Calls happen on delivery goroutines. With a pipeline depth above one they
// may arrive concurrently and, for OnRetry, out of index order.
type DeliveryObserver interface {
	// OnRetry is called after a retryable failure, before the backoff delay.
	OnRetry(ctx context.Context, batch Batch, attempt int, err error)

	// OnDelivered is called once the sink accepted the batch.
	OnDelivered(ctx context.Context, batch Batch, outcome Outcome, attempts int)
}
