package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"github.com/bjaus/dumpload"
)

var _ dumpload.Sink = (*Sink)(nil)

// Sink POSTs each batch as one JSON document. It does not retry; the pipeline
// owns retries and classifies the *dumpload.SinkError it returns.
type Sink struct {
	url    string
	opts   Options
	client *http.Client
}

// NewSink returns a Sink posting to sinkURL.
func NewSink(sinkURL string, opts Options) (*Sink, error) {
	if sinkURL == "" {
		return nil, errors.New("sink url is required")
	}
	opts = opts.withDefaults()
	return &Sink{url: sinkURL, opts: opts, client: newPooledClient(opts)}, nil
}

type deliverRequest struct {
	DownloadID string            `json:"download_id"`
	BatchIndex int               `json:"batch_index"`
	Records    []dumpload.Record `json:"records"`
}

type deliverResponse struct {
	AcceptedCount *int  `json:"accepted_count"`
	Success       *bool `json:"success"`
}

// Deliver implements dumpload.Sink.
func (s *Sink) Deliver(ctx context.Context, batch dumpload.Batch) (dumpload.Outcome, error) {
	data, err := json.Marshal(deliverRequest{
		DownloadID: batch.DownloadID,
		BatchIndex: batch.Index,
		Records:    batch.Records,
	})
	if err != nil {
		return dumpload.Outcome{}, errors.Wrapf(err, "marshaling batch %d", batch.Index)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return dumpload.Outcome{}, errors.Wrap(err, "preparing sink request")
	}
	setHeaders(req.Header, s.opts)
	req.Header.Set("Idempotency-Key", idempotencyKey(batch))

	resp, err := s.client.Do(req)
	if err != nil {
		return dumpload.Outcome{}, &dumpload.SinkError{Err: err}
	}
	body, err := readBody(resp)
	if err != nil {
		return dumpload.Outcome{}, &dumpload.SinkError{Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return dumpload.Outcome{}, &dumpload.SinkError{Status: resp.StatusCode, Body: snippet(body)}
	}

	var out deliverResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return dumpload.Outcome{}, &dumpload.SinkError{
				Status:   resp.StatusCode,
				Body:     snippet(body),
				Rejected: true,
				Err:      errors.Wrap(err, "decoding sink response"),
			}
		}
	}
	if out.Success != nil && !*out.Success {
		return dumpload.Outcome{}, &dumpload.SinkError{Status: resp.StatusCode, Body: snippet(body), Rejected: true}
	}

	outcome := dumpload.Outcome{}
	if out.AcceptedCount != nil {
		outcome.Accepted = *out.AcceptedCount
		outcome.Counted = true
	}
	return outcome, nil
}

func idempotencyKey(b dumpload.Batch) string {
	return b.DownloadID + ":" + strconv.Itoa(b.Index)
}
