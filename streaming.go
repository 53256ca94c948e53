package dumpload

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// stream makes one pass over the download: open, decompress, frame, validate,
// batch and deliver. Batches with an index below the contiguous prefix the
// sink already holds are rebuilt but not sent again, so a replayed pass
// resumes delivery where the previous one stopped.
//
// ctx is the parent context and stops reading. drainCtx outlives it for up to
// the drain timeout so in-flight deliveries can finish.
func (r *run) stream(ctx, drainCtx context.Context, opener Opener, url, downloadID string) error {
	p := r.p
	r.transition(StateDownloading)

	body, err := opener.Open(ctx, url)
	if err != nil {
		return asTransportError(err)
	}
	defer body.Close()

	dec, err := Decompress(body, p.codec)
	if err != nil {
		return err
	}
	defer dec.Close()

	r.transition(StateStreaming)

	resumeFrom := int(r.stats.LastBatchIndex() + 1)
	d := &deliverer{
		sink:     p.sink,
		policy:   p.retry,
		limiter:  p.limiter,
		observer: p.deliveryObserver,
		stats:    r.stats,
		logger:   p.logger.With("download_id", downloadID),
	}

	// Use drainCtx for the errgroup so delivery can continue draining
	// even after the parent context is cancelled
	group, groupCtx := errgroup.WithContext(drainCtx)
	batches := make(chan Batch)

	var readErr error
	group.Go(func() error {
		defer close(batches)
		err := r.runRead(ctx, groupCtx, dec, downloadID, resumeFrom, batches)
		if err != nil && groupCtx.Err() == nil {
			// Let in-flight deliveries settle before reporting a read failure.
			readErr = err
			return nil
		}
		return err
	})

	group.Go(func() error {
		return r.runDeliver(groupCtx, batches, d, p.resolvePipelineDepth())
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return readErr
}

// runRead scans the decompressed stream and sends sealed batches to out.
// ctx is checked for the shutdown signal: once it is cancelled runRead returns
// nil and the unsent partial batch is dropped. drainCtx is used for sends.
func (r *run) runRead(ctx, drainCtx context.Context, src io.Reader, downloadID string, resumeFrom int, out chan<- Batch) error {
	p := r.p
	interval := int64(p.resolveReportInterval())
	b := newBatcher(downloadID, p.resolveBatchSize(), p.maxBatchBytes)

	emit := func(batch Batch) error {
		if batch.Index < resumeFrom {
			p.logger.DebugContext(ctx, "batch already delivered, skipping",
				"download_id", downloadID, "batch_index", batch.Index)
			return nil
		}
		select {
		case out <- batch:
			return nil
		case <-ctx.Done():
			// Not yet handed to delivery, so it is dropped with the rest.
			return nil
		case <-drainCtx.Done():
			return drainCtx.Err()
		}
	}

	for line, err := range Lines(src) {
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		n := r.stats.incScanned()
		if n%interval == 0 {
			p.logger.InfoContext(ctx, "progress", "download_id", downloadID, "stats", r.stats)
			if p.progress != nil {
				p.progress.OnProgress(ctx, r.stats)
			}
		}

		rec, err := DecodeRecord(line)
		if err != nil {
			r.stats.incMalformed()
			r.skip(ctx, Skip{
				Line:   n,
				Reason: ReasonMalformed,
				Err:    &DecodeError{Line: n, Preview: Preview(line), Err: err},
			})
			continue
		}

		if v := p.policy.Evaluate(rec); !v.Accepted {
			r.stats.incRejected()
			r.skip(ctx, Skip{Line: n, Reason: v.Reason, ID: rec.ID()})
			continue
		}

		r.stats.incKept()
		if err := b.add(p.policy.Normalize(rec), len(line), emit); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	r.transition(StateCompleting)
	if err := b.flush(emit); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "stream exhausted",
		"download_id", downloadID, "batches", b.sealed(), "stats", r.stats)
	return nil
}

func (r *run) skip(ctx context.Context, s Skip) {
	if s.Err != nil {
		r.p.logger.DebugContext(ctx, "malformed line", "line", s.Line, "error", s.Err)
	}
	if r.p.skipHandler != nil {
		r.p.skipHandler.OnSkip(ctx, s)
	}
}

// pending is one delivery in flight. done is closed once outcome and err are
// set.
type pending struct {
	batch   Batch
	done    chan struct{}
	outcome Outcome
	err     error
}

// runDeliver delivers batches with up to depth deliveries in flight and
// consumes completions in index order. The first failure cancels the
// remaining deliveries; later batches are never counted as delivered.
func (r *run) runDeliver(ctx context.Context, in <-chan Batch, d *deliverer, depth int) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The collector holds one pending delivery while the buffer holds the
	// rest, so a depth of one makes delivery fully synchronous.
	inflight := make(chan *pending, depth-1)

	go func() {
		defer close(inflight)
		for {
			select {
			case <-dctx.Done():
				return
			case batch, ok := <-in:
				if !ok {
					return
				}
				pd := &pending{batch: batch, done: make(chan struct{})}
				select {
				case inflight <- pd:
				case <-dctx.Done():
					return
				}
				go func() {
					pd.outcome, pd.err = d.deliver(dctx, batch)
					close(pd.done)
				}()
			}
		}
	}()

	var firstErr error
	for pd := range inflight {
		<-pd.done
		if firstErr != nil {
			continue
		}
		if pd.err != nil {
			firstErr = pd.err
			cancel()
			continue
		}
		r.stats.markDelivered(pd.batch.Index, pd.batch.Len())
		d.logger.DebugContext(ctx, "batch delivered",
			"batch_index", pd.batch.Index,
			"records", pd.batch.Len(),
			"accepted", pd.outcome.Accepted,
		)
	}
	if firstErr != nil {
		return firstErr
	}
	// The dispatcher also stops when ctx is done, possibly leaving batches
	// unsent.
	return ctx.Err()
}

// asTransportError classifies an Open failure for the download retry loop.
func asTransportError(err error) error {
	var te *TransportError
	if errors.As(err, &te) || errors.Is(err, context.Canceled) {
		return err
	}
	return &TransportError{Err: err}
}
