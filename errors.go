package dumpload

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
)

// ErrCancelled is returned by Run when the parent context was cancelled before
// the dump was fully consumed. The summary's State is StateCancelled.
var ErrCancelled = errors.New("dumpload: run cancelled")

// errNoOpener is returned when neither WithOpener nor a Locator implementing
// Opener supplied a way to read the download URL.
var errNoOpener = errors.New("dumpload: no opener configured")

// previewLimit caps how many bytes of an unexpected payload end up in errors.
const previewLimit = 96

// Preview renders up to previewLimit bytes of b as a quoted string, marking
// truncation. Used for error messages that show what a peer actually sent.
func Preview(b []byte) string {
	if len(b) > previewLimit {
		return strconv.Quote(string(b[:previewLimit])) + "..."
	}
	return strconv.Quote(string(b))
}

// LocatorError reports a failure to obtain the download location. It is always
// fatal for the run; retries, if any, belong to the Locator implementation.
type LocatorError struct {
	Selector string
	Status   int    // upstream status, 0 when the request never completed
	Body     string // truncated upstream response body
	Err      error
}

func (e *LocatorError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("locate %q: status %d: %s", e.Selector, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("locate %q: %v", e.Selector, e.Err)
	default:
		return fmt.Sprintf("locate %q: failed", e.Selector)
	}
}

func (e *LocatorError) Unwrap() error { return e.Err }

// TransportError reports a failure of the download byte stream. The pipeline
// retries the whole download for transport errors unless Permanent is set.
type TransportError struct {
	Status    int    // HTTP status when the server answered, 0 otherwise
	Preview   string // quoted head of the response body for non-2xx answers
	Permanent bool
	Err       error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Preview != "":
		return fmt.Sprintf("download: status %d: %s", e.Status, e.Preview)
	case e.Status != 0:
		return fmt.Sprintf("download: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("download: %v", e.Err)
	default:
		return "download: failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// DumpFormatError reports that the byte stream is not the expected compressed
// dump: a wrong magic header, or corruption detected mid-stream.
type DumpFormatError struct {
	Reason  string
	Preview string // quoted head of the unexpected bytes, when available
	Err     error
}

func (e *DumpFormatError) Error() string {
	msg := "dump format: " + e.Reason
	if e.Preview != "" {
		msg += " (got " + e.Preview + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DumpFormatError) Unwrap() error { return e.Err }

// DecodeError describes a line that could not be decoded into a Record. It never
// fails a run; it is handed to SkipHandler implementations for diagnostics.
type DecodeError struct {
	Line    int64
	Preview string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("line %d: decode %s: %v", e.Line, e.Preview, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SinkError is what Sink implementations return when a batch was not accepted.
// Status is the HTTP-equivalent status (0 when no response was received),
// Rejected marks an explicit application-level failure reported by the sink.
type SinkError struct {
	Status   int
	Body     string
	Rejected bool
	Err      error
}

func (e *SinkError) Error() string {
	switch {
	case e.Rejected:
		return fmt.Sprintf("sink rejected batch: %s", e.Body)
	case e.Status != 0:
		return fmt.Sprintf("sink: status %d: %s", e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("sink: %v", e.Err)
	default:
		return "sink: failed"
	}
}

func (e *SinkError) Unwrap() error { return e.Err }

// DeliveryError is the fatal outcome of delivering one batch.
type DeliveryError struct {
	DownloadID string
	BatchIndex int
	Attempts   int
	Retryable  bool // the last failure was retryable
	Exhausted  bool // the retry budget ran out
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("deliver batch %d: gave up after %d attempts: %v", e.BatchIndex, e.Attempts, e.Err)
	}
	return fmt.Sprintf("deliver batch %d: %v", e.BatchIndex, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Status returns the sink status behind the failure, or 0.
func (e *DeliveryError) Status() int {
	var se *SinkError
	if errors.As(e.Err, &se) {
		return se.Status
	}
	return 0
}

// retryableStatus lists the HTTP-equivalent statuses that represent timeouts,
// rate limiting or server errors.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether a sink status is transient.
func IsRetryableStatus(status int) bool {
	return retryableStatus[status]
}

// IsRetryable is the default retry classification for sink failures: network
// failures and transient statuses are retryable; explicit rejections, any other
// status, cancellation and unknown errors are terminal.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var se *SinkError
	if errors.As(err, &se) {
		switch {
		case se.Rejected:
			return false
		case se.Status != 0:
			return IsRetryableStatus(se.Status)
		default:
			return se.Err != nil
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableTransport reports whether a download failure should restart the
// download from scratch.
func IsRetryableTransport(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return !te.Permanent
}
