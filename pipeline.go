package dumpload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// State is a step of the run lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateLocating    State = "locating"
	StateDownloading State = "downloading"
	StateStreaming   State = "streaming"
	StateCompleting  State = "completing"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// trackerTimeout bounds the best-effort session tracker calls.
const trackerTimeout = 30 * time.Second

// Pipeline ingests one dump per Run call.
type Pipeline struct {
	locator Locator
	sink    Sink

	// Configuration overrides (nil means use interface value or default)
	batchSize      *int
	depth          *int
	reportInterval *int
	drainTimeout   *time.Duration

	maxBatchBytes    int
	downloadAttempts int
	retry            RetryPolicy
	policy           Policy
	codec            Codec
	limiter          *rate.Limiter
	logger           *slog.Logger
	newID            func() string

	// Collaborators (explicit or detected from locator and sink)
	opener           Opener
	tracker          SessionTracker
	progress         ProgressReporter
	skipHandler      SkipHandler
	deliveryObserver DeliveryObserver

	batchSizeIface      BatchSize
	depthIface          PipelineDepth
	reportIntervalIface ReportInterval
	drainTimeoutIface   DrainTimeout
}

// New creates a Pipeline that locates dumps with locator and delivers batches
// to sink. Optional interfaces are auto-detected:
//   - on the locator: Opener
//   - on the sink: SessionTracker, SkipHandler, DeliveryObserver,
//     ProgressReporter, BatchSize, PipelineDepth, ReportInterval, DrainTimeout
//
// Builder methods take precedence over detected interfaces.
func New(locator Locator, sink Sink) *Pipeline {
	p := &Pipeline{
		locator:          locator,
		sink:             sink,
		downloadAttempts: DefaultDownloadAttempts,
		retry:            DefaultRetryPolicy(),
		codec:            CodecAuto,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:            uuid.NewString,
	}

	if o, ok := locator.(Opener); ok {
		p.opener = o
	}
	if t, ok := sink.(SessionTracker); ok {
		p.tracker = t
	}
	p.detectObservers(sink)
	if b, ok := sink.(BatchSize); ok {
		p.batchSizeIface = b
	}
	if d, ok := sink.(PipelineDepth); ok {
		p.depthIface = d
	}
	if r, ok := sink.(ReportInterval); ok {
		p.reportIntervalIface = r
	}
	if d, ok := sink.(DrainTimeout); ok {
		p.drainTimeoutIface = d
	}

	return p
}

func (p *Pipeline) detectObservers(v any) {
	if h, ok := v.(SkipHandler); ok {
		p.skipHandler = h
	}
	if o, ok := v.(DeliveryObserver); ok {
		p.deliveryObserver = o
	}
	if r, ok := v.(ProgressReporter); ok {
		p.progress = r
	}
}

// WithBatchSize overrides the number of records per batch.
// Priority: this method > BatchSize interface > DefaultBatchSize.
// Values less than 1 are ignored.
func (p *Pipeline) WithBatchSize(n int) *Pipeline {
	if n >= 1 {
		p.batchSize = &n
	}
	return p
}

// WithMaxBatchBytes seals a batch early when the raw size of its lines would
// exceed n bytes. Zero or negative disables the limit (the default).
func (p *Pipeline) WithMaxBatchBytes(n int) *Pipeline {
	p.maxBatchBytes = max(n, 0)
	return p
}

// WithPipelineDepth overrides the number of deliveries allowed in flight.
// Priority: this method > PipelineDepth interface > DefaultPipelineDepth.
// Values less than 1 are ignored.
func (p *Pipeline) WithPipelineDepth(n int) *Pipeline {
	if n >= 1 {
		p.depth = &n
	}
	return p
}

// WithReportInterval overrides how often progress is reported (in lines).
// Priority: this method > ReportInterval interface > DefaultReportInterval.
// Values less than 1 are ignored.
func (p *Pipeline) WithReportInterval(n int) *Pipeline {
	if n >= 1 {
		p.reportInterval = &n
	}
	return p
}

// WithDrainTimeout overrides the graceful shutdown timeout.
// Priority: this method > DrainTimeout interface > DefaultDrainTimeout.
// Set to 0 to disable graceful shutdown. Negative values are ignored.
func (p *Pipeline) WithDrainTimeout(d time.Duration) *Pipeline {
	if d < 0 {
		return p
	}
	p.drainTimeout = &d
	return p
}

// WithRetryPolicy replaces the delivery retry policy. Zero fields keep their
// defaults.
func (p *Pipeline) WithRetryPolicy(rp RetryPolicy) *Pipeline {
	p.retry = rp.withDefaults()
	return p
}

// WithMaxRetries sets the total number of delivery attempts per batch.
// Values less than 1 are ignored.
func (p *Pipeline) WithMaxRetries(n int) *Pipeline {
	if n >= 1 {
		p.retry.MaxAttempts = n
	}
	return p
}

// WithBaseDelay sets linear backoff with the given base delay, for both batch
// redelivery and download restarts. Negative values are ignored.
func (p *Pipeline) WithBaseDelay(d time.Duration) *Pipeline {
	if d >= 0 {
		p.retry.Backoff = LinearBackoff(d)
	}
	return p
}

// WithDownloadAttempts sets how many times a download interrupted by a
// transport failure is restarted from scratch, including the first attempt.
// Values less than 1 are ignored.
func (p *Pipeline) WithDownloadAttempts(n int) *Pipeline {
	if n >= 1 {
		p.downloadAttempts = n
	}
	return p
}

// WithPolicy sets the record completeness policy.
func (p *Pipeline) WithPolicy(policy Policy) *Pipeline {
	p.policy = policy
	return p
}

// WithCodec sets the expected compression format. The default detects it.
func (p *Pipeline) WithCodec(c Codec) *Pipeline {
	p.codec = c
	return p
}

// WithRateLimit caps sink calls (including retries) at perSecond calls per
// second. Zero or negative removes the limit.
func (p *Pipeline) WithRateLimit(perSecond float64) *Pipeline {
	if perSecond <= 0 {
		p.limiter = nil
		return p
	}
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	return p
}

// WithLogger sets the logger. The default discards everything.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	if l != nil {
		p.logger = l
	}
	return p
}

// WithOpener sets how download URLs are read, overriding a Locator that
// implements Opener.
func (p *Pipeline) WithOpener(o Opener) *Pipeline {
	p.opener = o
	return p
}

// WithSessionTracker sets the session tracker, overriding a Sink that
// implements SessionTracker.
func (p *Pipeline) WithSessionTracker(t SessionTracker) *Pipeline {
	p.tracker = t
	return p
}

// WithObserver registers o for every observer interface it implements:
// SkipHandler, DeliveryObserver and ProgressReporter. It replaces observers
// detected on the sink.
func (p *Pipeline) WithObserver(o any) *Pipeline {
	p.detectObservers(o)
	return p
}

// WithIDGenerator replaces the generator used for download ids when the
// Locator does not supply one.
func (p *Pipeline) WithIDGenerator(fn func() string) *Pipeline {
	if fn != nil {
		p.newID = fn
	}
	return p
}

// Run locates the dump for selector, streams it through the pipeline and
// returns the run summary.
//
// The summary is returned on every path. The error is nil only when the State
// is StateSucceeded; on cancellation it matches ErrCancelled.
func (p *Pipeline) Run(ctx context.Context, selector string) (*Summary, error) {
	r := &run{
		p:       p,
		stats:   newStats(),
		started: time.Now(),
		summary: &Summary{Selector: selector, State: StateIdle, LastBatchIndex: -1},
	}

	err := r.execute(ctx, selector)
	return r.finish(ctx, err)
}

// run is the state of one Run call.
type run struct {
	p       *Pipeline
	stats   *Stats
	started time.Time
	summary *Summary
	tracked bool
}

func (r *run) transition(s State) {
	r.p.logger.Debug("state", "from", r.summary.State, "to", s, "download_id", r.summary.DownloadID)
	r.summary.State = s
}

func (r *run) execute(ctx context.Context, selector string) error {
	p := r.p

	r.transition(StateLocating)
	loc, err := p.locator.Locate(ctx, selector)
	if err != nil {
		var le *LocatorError
		if errors.As(err, &le) {
			return err
		}
		return &LocatorError{Selector: selector, Err: err}
	}
	if loc.URL == "" {
		return &LocatorError{Selector: selector, Err: errors.New("no download url in response")}
	}

	downloadID := loc.DownloadID
	if downloadID == "" {
		downloadID = p.newID()
	}
	r.summary.DownloadID = downloadID
	r.summary.SessionID = loc.SessionID

	opener := p.resolveOpener()
	if opener == nil {
		return errNoOpener
	}

	if p.tracker != nil {
		r.tracked = true
		if err := p.tracker.Start(ctx, downloadID, selector); err != nil {
			p.logger.WarnContext(ctx, "session tracker start failed", "download_id", downloadID, "error", err)
		}
	}

	drainCtx, shutdownComplete := p.setupDrainContext(ctx)
	defer close(shutdownComplete)

	for attempt := 1; ; attempt++ {
		r.summary.DownloadAttempts = attempt
		if attempt > 1 {
			r.stats.restartScan()
		}

		err := r.stream(ctx, drainCtx, opener, loc.URL, downloadID)
		if err == nil || ctx.Err() != nil || !IsRetryableTransport(err) || attempt >= p.downloadAttempts {
			return err
		}

		delay := p.retry.Backoff(attempt)
		p.logger.WarnContext(ctx, "download interrupted, restarting",
			"download_id", downloadID,
			"attempt", attempt,
			"delivered_batches", r.stats.BatchesDelivered(),
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return nil //nolint:nilerr // cancellation is reported by finish
		}
	}
}

// finish settles the terminal state, notifies the tracker and logs the
// summary.
func (r *run) finish(ctx context.Context, err error) (*Summary, error) {
	r.stats.summarize(r.summary)
	r.summary.Elapsed = time.Since(r.started)

	switch {
	case ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)):
		err = ErrCancelled
		r.transition(StateCancelled)
	case ctx.Err() != nil:
		err = errors.Mark(err, ErrCancelled)
		r.transition(StateCancelled)
	case err != nil:
		r.transition(StateFailed)
	default:
		r.transition(StateSucceeded)
	}
	if err != nil {
		r.summary.Error = err.Error()
	}

	if r.tracked {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackerTimeout)
		if terr := r.p.tracker.Complete(tctx, r.summary); terr != nil {
			r.p.logger.WarnContext(ctx, "session tracker complete failed",
				"download_id", r.summary.DownloadID, "error", terr)
		}
		cancel()
	}

	if err != nil {
		r.p.logger.ErrorContext(ctx, "run ended", "summary", r.summary, "error", err)
		return r.summary, fmt.Errorf("dumpload: %w", err)
	}
	r.p.logger.InfoContext(ctx, "run complete", "summary", r.summary)
	return r.summary, nil
}

// setupDrainContext creates a context for graceful shutdown with two-phase management:
// - parent ctx: When cancelled, signals "stop reading the dump"
// - drainCtx: Allows in-flight deliveries to complete within timeout
func (p *Pipeline) setupDrainContext(ctx context.Context) (context.Context, chan struct{}) {
	drainTimeout := p.resolveDrainTimeout()
	drainCtx, drainCancel := context.WithCancelCause(context.WithoutCancel(ctx))
	shutdownComplete := make(chan struct{})

	if drainTimeout > 0 {
		go p.runDrainTimer(ctx, drainTimeout, drainCancel, shutdownComplete)
	} else {
		go p.mirrorContextCancel(ctx, drainCancel, shutdownComplete)
	}

	return drainCtx, shutdownComplete
}

// runDrainTimer starts a timer when parent context is cancelled, cancelling drain context on timeout.
func (p *Pipeline) runDrainTimer(ctx context.Context, timeout time.Duration, cancel context.CancelCauseFunc, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel(errors.Newf("drain timeout expired after %v", timeout))
		case <-done:
			cancel(nil)
		}
	case <-done:
		cancel(nil)
	}
}

// mirrorContextCancel cancels drain context when parent context is cancelled (no graceful shutdown).
func (p *Pipeline) mirrorContextCancel(ctx context.Context, cancel context.CancelCauseFunc, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		cancel(ctx.Err())
	case <-done:
		cancel(nil)
	}
}
