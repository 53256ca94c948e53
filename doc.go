// Package dumpload streams a compressed newline-delimited JSON dump from a
// remote location into a batch sink in constant memory.
//
// A run resolves a download URL through a Locator, reads the compressed bytes
// through an Opener, decompresses them lazily (zstd or gzip), splits them into
// lines, decodes and validates each line against a Policy, groups the accepted
// records into fixed-size batches with gapless sequence indexes and hands each
// batch to a Sink with linear-backoff retry. Nothing is ever buffered beyond
// the current line and the batches allowed in flight.
//
// # Quick Start
//
// Implement the two required interfaces:
//
//	type MyLocator struct{ client *http.Client }
//
//	func (l *MyLocator) Locate(ctx context.Context, selector string) (dumpload.Location, error) {
//	    // Ask the dump service for a signed URL
//	    return dumpload.Location{URL: signedURL, DownloadID: id}, nil
//	}
//
//	func (l *MyLocator) Open(ctx context.Context, url string) (io.ReadCloser, error) {
//	    req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	    resp, err := l.client.Do(req)
//	    if err != nil {
//	        return nil, &dumpload.TransportError{Err: err}
//	    }
//	    return resp.Body, nil
//	}
//
//	type MySink struct{ store *Store }
//
//	func (s *MySink) Deliver(ctx context.Context, b dumpload.Batch) (dumpload.Outcome, error) {
//	    // UPSERT keyed by (b.DownloadID, b.Index) so retries never double-write
//	    return dumpload.Outcome{}, s.store.Upsert(ctx, b.DownloadID, b.Index, b.Records)
//	}
//
//	summary, err := dumpload.New(&MyLocator{}, &MySink{}).Run(ctx, "full")
//
// The httpapi subpackage provides ready-made HTTP implementations of the
// Locator, Opener, Sink and SessionTracker.
//
// # Interface-Based Design
//
// The pipeline auto-detects optional interfaces on its collaborators. The
// Locator may implement Opener. The Sink may implement SessionTracker,
// SkipHandler, DeliveryObserver, ProgressReporter, BatchSize, PipelineDepth,
// ReportInterval and DrainTimeout.
//
// # Configuration
//
// Every knob has a WithXxx builder method, and most have a matching interface.
// The builder always takes priority:
//
//	summary, err := dumpload.New(locator, sink).
//	    WithBatchSize(500).                       // records per batch
//	    WithMaxRetries(5).                        // total attempts per batch
//	    WithBaseDelay(1500 * time.Millisecond).   // linear backoff base
//	    WithPipelineDepth(2).                     // deliveries in flight
//	    WithPolicy(dumpload.Policy{MinImages: 1}).
//	    WithLogger(logger).
//	    Run(ctx, "full")
//
// Configuration priority (highest to lowest):
//  1. WithXxx() method overrides
//  2. Interface implementations
//  3. Default values
//
// # Ordering and Backpressure
//
// Batch indexes start at zero and increase by one per sealed batch. With the
// default depth of one, batch i+1 is not sent until batch i succeeded or failed
// terminally; reading pauses while a delivery is outstanding. With a larger
// depth up to that many deliveries overlap, but completions are consumed in
// index order and the first failure stops the run.
//
// # Failures
//
// Malformed lines and policy rejections are counted and skipped. Locator
// failures, unexpected compression formats and terminal delivery failures end
// the run with StateFailed. A download interrupted by a transport failure is
// restarted from the first byte a bounded number of times; batches the sink
// already accepted are not sent again.
//
// The Summary returned by Run always carries the counters reached, including
// on failure.
//
// # Graceful Shutdown
//
// Cancelling the context stops reading immediately and drops the unsent
// partial batch. Deliveries already in flight may finish within the drain
// timeout. The run then ends with StateCancelled and an error matching
// ErrCancelled:
//
//	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	summary, err := dumpload.New(locator, sink).Run(ctx, "full")
package dumpload
