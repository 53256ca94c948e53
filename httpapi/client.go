// Package httpapi implements the dumpload collaborators over HTTP: a Locator
// that asks the dump service for a download URL, a Downloader that streams
// the dump, a Sink that POSTs batches and a best-effort session Tracker.
package httpapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// bodyLimit caps how much of an unexpected response body ends up in errors.
const bodyLimit = 256

// Options configure the HTTP clients.
type Options struct {
	// Timeout bounds a whole request for the locator, sink and tracker, and
	// only the wait for response headers for the downloader.
	Timeout time.Duration

	// RetryMax is the number of extra attempts the retrying clients make on
	// connection errors, 429 and 5xx. The sink never retries by itself.
	RetryMax int

	// RetryWaitMin and RetryWaitMax bound the retrying clients' backoff.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Token, when set, is sent as a bearer token on every request except the
	// download, whose URL is already signed.
	Token string

	Logger *slog.Logger
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		Timeout:      60 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryWaitMin <= 0 {
		o.RetryWaitMin = def.RetryWaitMin
	}
	if o.RetryWaitMax < o.RetryWaitMin {
		o.RetryWaitMax = max(def.RetryWaitMax, o.RetryWaitMin)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// newRetryClient builds a retrying client that hands the last response back
// to the caller once retries are exhausted, so status and body can be
// reported.
func newRetryClient(o Options, hc *http.Client) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient = hc
	c.RetryMax = o.RetryMax
	c.RetryWaitMin = o.RetryWaitMin
	c.RetryWaitMax = o.RetryWaitMax
	c.Logger = o.Logger
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// newPooledClient is a plain client with a whole-request timeout.
func newPooledClient(o Options) *http.Client {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = o.Timeout
	return hc
}

// newRequest builds a JSON POST for the retrying clients.
func newRequest(ctx context.Context, o Options, url string, payload any) (*retryablehttp.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, data)
	if err != nil {
		return nil, errors.Wrap(err, "preparing request")
	}
	setHeaders(req.Header, o)
	return req, nil
}

func setHeaders(h http.Header, o Options) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if o.Token != "" {
		h.Set("Authorization", "Bearer "+o.Token)
	}
}

// readBody reads a response body in full and closes it.
func readBody(resp *http.Response) (body []byte, err error) {
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing response body")
		}
	}()
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	return body, nil
}

// snippet renders at most bodyLimit bytes of body for error messages.
func snippet(body []byte) string {
	body = bytes.TrimSpace(body)
	if !utf8.Valid(body) {
		return "<binary>"
	}
	if len(body) > bodyLimit {
		return string(body[:bodyLimit]) + "..."
	}
	return string(body)
}

func isSuccess(status int) bool {
	return status/100 == http.StatusOK/100
}
