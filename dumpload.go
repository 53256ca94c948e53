package dumpload

import (
	"context"
	"io"
)

// Location is where a dump can be downloaded from, as reported by a Locator.
type Location struct {
	// URL is the time-limited download location.
	URL string

	// DownloadID identifies this download at the sink. When empty the
	// pipeline generates a fresh one for the run.
	DownloadID string

	// SessionID is an optional identifier for the session tracker.
	SessionID string
}

// Locator resolves an inventory selector into a download Location. This is the
// only required collaborator besides Sink.
//
// Any error returned by Locate is fatal for the run and is reported as a
// *LocatorError. The pipeline does not retry Locate; implementations that talk
// to a flaky service should retry internally.
//
// Example:
//
//	func (l *MyLocator) Locate(ctx context.Context, selector string) (dumpload.Location, error) {
//	    resp, err := l.api.RequestDump(ctx, selector)
//	    if err != nil {
//	        return dumpload.Location{}, err
//	    }
//	    return dumpload.Location{URL: resp.URL, DownloadID: resp.ID}, nil
//	}
type Locator interface {
	Locate(ctx context.Context, selector string) (Location, error)
}

// Opener opens the compressed byte stream behind a download URL.
//
// A Locator that also implements Opener is used as the Opener unless
// WithOpener overrides it. Read errors from the returned body are reported as
// *TransportError and trigger a whole-download retry; Open may also return a
// *TransportError directly, with Permanent set when retrying cannot help
// (for example an expired signed URL).
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Batch is a bounded, ordered group of accepted records delivered to the sink
// in one call. (DownloadID, Index) is stable across retries of the same batch,
// so sinks can use it as an idempotency key.
type Batch struct {
	DownloadID string
	Index      int
	Records    []Record

	// bytes is the raw line size of the records, used for byte-capped batching.
	bytes int
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// Outcome is a successful delivery as reported by the sink.
type Outcome struct {
	// Accepted is the sink-reported number of persisted records. It is only
	// meaningful when Counted is true and is used for logging, never for
	// correctness.
	Accepted int
	Counted  bool
}

// Sink durably persists batches. Deliver must be atomic from the pipeline's
// point of view: either the whole batch is accepted and Deliver returns nil,
// or it returns an error and the batch is treated as not delivered.
//
// Return a *SinkError so the pipeline can classify the failure:
//   - Status 408, 429, 500, 502, 503, 504 are retried with backoff
//   - Status 0 with a transport cause (connection reset, timeout) is retried
//   - Rejected (an explicit application-level failure) is fatal immediately
//   - any other status is fatal immediately
//
// Other errors are retried only if they wrap a net.Error. The classification
// can be replaced with WithRetryPolicy.
//
// Deliver is called with the same (DownloadID, Index) on every retry of a
// batch; an idempotent sink therefore never double-writes.
type Sink interface {
	Deliver(ctx context.Context, batch Batch) (Outcome, error)
}

// SessionTracker records run start and completion for observability. It is
// optional and strictly best effort: errors are logged and never affect the
// run's outcome.
//
// Implement it on the Sink, or pass one with WithSessionTracker.
type SessionTracker interface {
	// Start is called once the download location is known.
	Start(ctx context.Context, downloadID, selector string) error

	// Complete is called with the final summary on every terminal path
	// after Start was called, including failures and cancellation.
	Complete(ctx context.Context, summary *Summary) error
}
