package dumpload

import "time"

// Default configuration values.
const (
	DefaultBatchSize        = 500
	DefaultMaxRetries       = 5
	DefaultBaseDelay        = 1500 * time.Millisecond
	DefaultReportInterval   = 10000
	DefaultPipelineDepth    = 1
	DefaultDownloadAttempts = 3
	DefaultDrainTimeout     = 5 * time.Minute
)

// BatchSize lets a Sink declare how many records it wants per Deliver call.
// Implement this interface when the batch size is a property of the
// downstream API (for example a documented request limit) rather than of the
// run.
//
// The value can be overridden at runtime via WithBatchSize, which takes
// precedence. If neither is set, DefaultBatchSize (500) is used.
//
// Example:
//
//	func (s *MySink) BatchSize() int { return 1000 }
type BatchSize interface {
	// BatchSize returns the maximum number of records per batch.
	BatchSize() int
}

// PipelineDepth lets a Sink declare how many deliveries it accepts in flight
// at once. Implement this interface on sinks that handle concurrent writes
// well, so decoding of the next batches overlaps with delivery of the current
// one.
//
// The value can be overridden at runtime via WithPipelineDepth, which takes
// precedence. If neither is set, DefaultPipelineDepth (1) is used, which makes
// delivery fully synchronous: batch i+1 is not sent until batch i succeeded.
//
// Whatever the depth, completions are consumed in index order and memory use
// stays proportional to batch size times depth.
//
// Example:
//
//	func (s *MySink) PipelineDepth() int { return 4 }
type PipelineDepth interface {
	// PipelineDepth returns the maximum number of concurrent deliveries.
	PipelineDepth() int
}

// DrainTimeout controls graceful shutdown behavior. When the parent context is
// cancelled (e.g., SIGTERM), the pipeline:
//
//  1. Stops reading the dump immediately and drops the unsent partial batch
//  2. Allows in-flight deliveries to complete within the timeout
//  3. Reports StateCancelled either way, with the counters reached
//
// Implement this interface on the Sink to set the timeout from the
// collaborator rather than the builder.
//
// The value can be overridden at runtime via WithDrainTimeout, which takes
// precedence. If neither is set, DefaultDrainTimeout (5 minutes) is used.
//
// Set to 0 to disable graceful shutdown entirely (in-flight deliveries are
// aborted on cancellation). Negative values passed to WithDrainTimeout are
// ignored.
//
// Example:
//
//	func (s *MySink) DrainTimeout() time.Duration { return 30 * time.Second }
type DrainTimeout interface {
	// DrainTimeout returns the maximum time to wait for in-flight deliveries
	// to complete after the parent context is cancelled.
	DrainTimeout() time.Duration
}

// resolveBatchSize returns the effective batch size.
// Priority: WithBatchSize > BatchSize interface > DefaultBatchSize.
func (p *Pipeline) resolveBatchSize() int {
	if p.batchSize != nil {
		return *p.batchSize
	}
	if p.batchSizeIface != nil {
		if n := p.batchSizeIface.BatchSize(); n >= 1 {
			return n
		}
	}
	return DefaultBatchSize
}

// resolvePipelineDepth returns the effective pipeline depth.
// Priority: WithPipelineDepth > PipelineDepth interface > DefaultPipelineDepth.
func (p *Pipeline) resolvePipelineDepth() int {
	if p.depth != nil {
		return *p.depth
	}
	if p.depthIface != nil {
		if n := p.depthIface.PipelineDepth(); n >= 1 {
			return n
		}
	}
	return DefaultPipelineDepth
}

// resolveReportInterval returns the effective report interval.
// Priority: WithReportInterval > ReportInterval interface > DefaultReportInterval.
func (p *Pipeline) resolveReportInterval() int {
	if p.reportInterval != nil {
		return *p.reportInterval
	}
	if p.reportIntervalIface != nil {
		if n := p.reportIntervalIface.ReportInterval(); n >= 1 {
			return n
		}
	}
	return DefaultReportInterval
}

// resolveDrainTimeout returns the effective drain timeout.
// Priority: WithDrainTimeout > DrainTimeout interface > DefaultDrainTimeout.
func (p *Pipeline) resolveDrainTimeout() time.Duration {
	if p.drainTimeout != nil {
		return *p.drainTimeout
	}
	if p.drainTimeoutIface != nil {
		return p.drainTimeoutIface.DrainTimeout()
	}
	return DefaultDrainTimeout
}

// resolveOpener returns the effective opener.
// Priority: WithOpener > Locator implementing Opener.
func (p *Pipeline) resolveOpener() Opener {
	if p.opener != nil {
		return p.opener
	}
	if o, ok := p.locator.(Opener); ok {
		return o
	}
	return nil
}
