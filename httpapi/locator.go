package httpapi

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bjaus/dumpload"
)

var (
	_ dumpload.Locator = (*Locator)(nil)
	_ dumpload.Opener  = (*Locator)(nil)
)

// Locator asks the dump service where the current dump of an inventory lives.
// It embeds a Downloader, so the pipeline also uses it to open the dump.
type Locator struct {
	*Downloader

	url    string
	opts   Options
	client *retryablehttp.Client
}

// NewLocator returns a Locator posting to locatorURL.
func NewLocator(locatorURL string, opts Options) (*Locator, error) {
	if locatorURL == "" {
		return nil, errors.New("locator url is required")
	}
	opts = opts.withDefaults()
	return &Locator{
		Downloader: NewDownloader(opts),
		url:        locatorURL,
		opts:       opts,
		client:     newRetryClient(opts, newPooledClient(opts)),
	}, nil
}

type locateRequest struct {
	Inventory string `json:"inventory"`
}

// locateResponse accepts both the flat form and the {"data":{"url"}} envelope.
type locateResponse struct {
	DownloadURL string `json:"download_url"`
	DownloadID  string `json:"download_id"`
	SessionID   string `json:"session_id"`
	Data        *struct {
		URL        string `json:"url"`
		DownloadID string `json:"download_id"`
		SessionID  string `json:"session_id"`
	} `json:"data"`
}

// Locate implements dumpload.Locator.
func (l *Locator) Locate(ctx context.Context, selector string) (dumpload.Location, error) {
	fail := func(status int, body string, err error) (dumpload.Location, error) {
		return dumpload.Location{}, &dumpload.LocatorError{Selector: selector, Status: status, Body: body, Err: err}
	}

	req, err := newRequest(ctx, l.opts, l.url, locateRequest{Inventory: selector})
	if err != nil {
		return fail(0, "", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fail(0, "", errors.Wrap(err, "dispatching locate request"))
	}
	body, err := readBody(resp)
	if err != nil {
		return fail(resp.StatusCode, "", err)
	}
	if !isSuccess(resp.StatusCode) {
		return fail(resp.StatusCode, snippet(body), nil)
	}

	var out locateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fail(resp.StatusCode, snippet(body), errors.Wrap(err, "decoding locate response"))
	}

	loc := dumpload.Location{URL: out.DownloadURL, DownloadID: out.DownloadID, SessionID: out.SessionID}
	if d := out.Data; d != nil {
		loc.URL = firstNonEmpty(loc.URL, d.URL)
		loc.DownloadID = firstNonEmpty(loc.DownloadID, d.DownloadID)
		loc.SessionID = firstNonEmpty(loc.SessionID, d.SessionID)
	}
	if loc.URL == "" {
		return fail(resp.StatusCode, snippet(body), errors.New("response has no download url"))
	}
	return loc, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
