// Package metrics exposes pipeline activity as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bjaus/dumpload"
)

const namespace = "dumpload"

const (
	MetricLinesSkipped       = "lines_skipped_total"
	MetricDeliveryRetries    = "delivery_retries_total"
	MetricBatchesDelivered   = "batches_delivered_total"
	MetricRecordsDelivered   = "records_delivered_total"
	MetricRecordsAccepted    = "records_accepted_total"
	MetricDeliveryAttempts   = "delivery_attempts"
	MetricLinesScanned       = "lines_scanned"
	MetricLastDeliveredBatch = "last_delivered_batch_index"
)

var (
	_ dumpload.SkipHandler      = (*Collector)(nil)
	_ dumpload.DeliveryObserver = (*Collector)(nil)
	_ dumpload.ProgressReporter = (*Collector)(nil)
)

// Collector records pipeline events. Register it on a Pipeline with
// WithObserver.
type Collector struct {
	skipped          *prometheus.CounterVec
	retries          *prometheus.CounterVec
	batchesDelivered prometheus.Counter
	recordsDelivered prometheus.Counter
	recordsAccepted  prometheus.Counter
	attempts         prometheus.Histogram
	scanned          prometheus.Gauge
	lastBatch        prometheus.Gauge
}

// New creates a Collector and registers its metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricLinesSkipped,
			Help:      "Lines dropped before batching, by reason.",
		}, []string{"reason"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricDeliveryRetries,
			Help:      "Batch delivery attempts that failed and were retried, by sink status.",
		}, []string{"status"}),
		batchesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricBatchesDelivered,
			Help:      "Batches accepted by the sink.",
		}),
		recordsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRecordsDelivered,
			Help:      "Records in batches accepted by the sink.",
		}),
		recordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRecordsAccepted,
			Help:      "Records the sink reported as persisted, when it reports a count.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricDeliveryAttempts,
			Help:      "Attempts needed to deliver a batch.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		scanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricLinesScanned,
			Help:      "Non-blank lines read in the current download pass, updated at each progress report.",
		}),
		lastBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricLastDeliveredBatch,
			Help:      "Index of the last batch in the delivered prefix, updated at each progress report.",
		}),
	}
	c.lastBatch.Set(-1)

	reg.MustRegister(
		c.skipped,
		c.retries,
		c.batchesDelivered,
		c.recordsDelivered,
		c.recordsAccepted,
		c.attempts,
		c.scanned,
		c.lastBatch,
	)
	return c
}

// OnSkip implements dumpload.SkipHandler.
func (c *Collector) OnSkip(_ context.Context, s dumpload.Skip) {
	c.skipped.WithLabelValues(string(s.Reason)).Inc()
}

// OnRetry implements dumpload.DeliveryObserver.
func (c *Collector) OnRetry(_ context.Context, _ dumpload.Batch, _ int, err error) {
	c.retries.WithLabelValues(statusLabel(err)).Inc()
}

// OnDelivered implements dumpload.DeliveryObserver.
func (c *Collector) OnDelivered(_ context.Context, batch dumpload.Batch, outcome dumpload.Outcome, attempts int) {
	c.batchesDelivered.Inc()
	c.recordsDelivered.Add(float64(batch.Len()))
	if outcome.Counted {
		c.recordsAccepted.Add(float64(outcome.Accepted))
	}
	c.attempts.Observe(float64(attempts))
}

// OnProgress implements dumpload.ProgressReporter.
func (c *Collector) OnProgress(_ context.Context, stats *dumpload.Stats) {
	c.scanned.Set(float64(stats.Scanned()))
	c.lastBatch.Set(float64(stats.LastBatchIndex()))
}

// statusLabel is the sink status behind err, or "network".
func statusLabel(err error) string {
	var se *dumpload.SinkError
	if errors.As(err, &se) && se.Status != 0 {
		return strconv.Itoa(se.Status)
	}
	return "network"
}
