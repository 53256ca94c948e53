package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bjaus/dumpload"
)

var _ dumpload.Opener = (*Downloader)(nil)

// previewBytes is how much of a non-2xx download body is kept for errors.
const previewBytes = 96

// Downloader streams a dump with GET. Connection errors, 429 and 5xx are
// retried before any byte is returned; once streaming, failures surface to the
// pipeline which restarts the download as a whole.
type Downloader struct {
	client *retryablehttp.Client
}

// NewDownloader returns a Downloader. The client has no overall timeout since
// a dump may take a long time to stream; Timeout bounds the wait for headers.
func NewDownloader(opts Options) *Downloader {
	opts = opts.withDefaults()
	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = opts.Timeout
	// Dumps are already compressed; transparent gzip would hide the magic header.
	transport.DisableCompression = true
	return &Downloader{
		client: newRetryClient(opts, &http.Client{Transport: transport}),
	}
}

// Open implements dumpload.Opener.
func (d *Downloader) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &dumpload.TransportError{Permanent: true, Err: errors.Wrap(err, "preparing download request")}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &dumpload.TransportError{Err: errors.Wrap(err, "dispatching download request")}
	}

	if !isSuccess(resp.StatusCode) {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, previewBytes))
		_ = resp.Body.Close()
		return nil, &dumpload.TransportError{
			Status:    resp.StatusCode,
			Preview:   dumpload.Preview(head),
			Permanent: !dumpload.IsRetryableStatus(resp.StatusCode),
		}
	}
	return resp.Body, nil
}
