package httpapi

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bjaus/dumpload"
)

var _ dumpload.SessionTracker = (*Tracker)(nil)

// Tracker reports run start and completion to a session service. The pipeline
// treats its errors as warnings.
type Tracker struct {
	base   string
	opts   Options
	client *retryablehttp.Client
}

// NewTracker returns a Tracker posting to {trackerURL}/start and
// {trackerURL}/complete.
func NewTracker(trackerURL string, opts Options) (*Tracker, error) {
	if trackerURL == "" {
		return nil, errors.New("tracker url is required")
	}
	opts = opts.withDefaults()
	// Tracking is best effort; keep it from holding up the run.
	opts.RetryMax = min(opts.RetryMax, 1)
	return &Tracker{
		base:   strings.TrimRight(trackerURL, "/"),
		opts:   opts,
		client: newRetryClient(opts, newPooledClient(opts)),
	}, nil
}

type startRequest struct {
	DownloadID string `json:"download_id"`
	Inventory  string `json:"inventory"`
}

// Start implements dumpload.SessionTracker.
func (t *Tracker) Start(ctx context.Context, downloadID, selector string) error {
	return t.post(ctx, "/start", startRequest{DownloadID: downloadID, Inventory: selector})
}

// Complete implements dumpload.SessionTracker.
func (t *Tracker) Complete(ctx context.Context, summary *dumpload.Summary) error {
	return t.post(ctx, "/complete", summary)
}

func (t *Tracker) post(ctx context.Context, path string, payload any) error {
	req, err := newRequest(ctx, t.opts, t.base+path, payload)
	if err != nil {
		return errors.Wrapf(err, "tracker %s", path)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "tracker %s", path)
	}
	body, err := readBody(resp)
	if err != nil {
		return errors.Wrapf(err, "tracker %s", path)
	}
	if !isSuccess(resp.StatusCode) {
		return errors.Newf("tracker %s: status %d: %s", path, resp.StatusCode, snippet(body))
	}
	return nil
}
