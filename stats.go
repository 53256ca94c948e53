package dumpload

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Stats is the run state shared by every stage of one run. Counter fields use
// atomic operations so the delivery goroutines and the reading goroutine can
// update them without locks. A Stats value belongs to exactly one run.
type Stats struct {
	scanned   atomic.Int64
	kept      atomic.Int64
	malformed atomic.Int64
	rejected  atomic.Int64

	batchesDelivered atomic.Int64
	recordsDelivered atomic.Int64
	retries          atomic.Int64
	lastBatch        atomic.Int64
}

func newStats() *Stats {
	s := &Stats{}
	s.lastBatch.Store(-1)
	return s
}

// Scanned returns the number of non-blank lines read.
func (s *Stats) Scanned() int64 { return s.scanned.Load() }

// Kept returns the number of records accepted by the policy.
func (s *Stats) Kept() int64 { return s.kept.Load() }

// Skipped returns the number of lines dropped, malformed or rejected.
func (s *Stats) Skipped() int64 { return s.malformed.Load() + s.rejected.Load() }

// Malformed returns the number of lines that were not a JSON object.
func (s *Stats) Malformed() int64 { return s.malformed.Load() }

// Rejected returns the number of records the policy rejected.
func (s *Stats) Rejected() int64 { return s.rejected.Load() }

// BatchesDelivered returns the number of batches the sink accepted.
func (s *Stats) BatchesDelivered() int64 { return s.batchesDelivered.Load() }

// RecordsDelivered returns the number of records in accepted batches.
func (s *Stats) RecordsDelivered() int64 { return s.recordsDelivered.Load() }

// Retries returns the number of delivery attempts beyond the first.
func (s *Stats) Retries() int64 { return s.retries.Load() }

// LastBatchIndex returns the index of the last accepted batch, or -1.
func (s *Stats) LastBatchIndex() int64 { return s.lastBatch.Load() }

// LogValue implements slog.LogValuer for structured logging.
func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("scanned", s.Scanned()),
		slog.Int64("kept", s.Kept()),
		slog.Int64("skipped", s.Skipped()),
		slog.Int64("batches_delivered", s.BatchesDelivered()),
		slog.Int64("retries", s.Retries()),
	)
}

// restartScan clears the per-pass counters before a download is replayed from
// the first byte. Delivery counters survive: they describe what the sink
// already holds.
func (s *Stats) restartScan() {
	s.scanned.Store(0)
	s.kept.Store(0)
	s.malformed.Store(0)
	s.rejected.Store(0)
}

func (s *Stats) incScanned() int64 { return s.scanned.Add(1) }
func (s *Stats) incKept()          { s.kept.Add(1) }
func (s *Stats) incMalformed()     { s.malformed.Add(1) }
func (s *Stats) incRejected()      { s.rejected.Add(1) }
func (s *Stats) incRetries()       { s.retries.Add(1) }

func (s *Stats) markDelivered(index, records int) {
	s.batchesDelivered.Add(1)
	s.recordsDelivered.Add(int64(records))
	s.lastBatch.Store(int64(index))
}

// Summary is the terminal report of a run. It is returned by Run on every
// path, including failures, with counters up to the point of termination.
type Summary struct {
	Selector   string `json:"selector"`
	DownloadID string `json:"download_id"`
	SessionID  string `json:"session_id,omitempty"`
	State      State  `json:"state"`
	Error      string `json:"error,omitempty"`

	Scanned   int64 `json:"scanned"`
	Kept      int64 `json:"kept"`
	Skipped   int64 `json:"skipped"`
	Malformed int64 `json:"malformed"`
	Rejected  int64 `json:"rejected"`

	BatchesDelivered int64 `json:"batches_delivered"`
	RecordsDelivered int64 `json:"records_delivered"`
	Retries          int64 `json:"retries"`
	LastBatchIndex   int64 `json:"last_batch_index"`
	DownloadAttempts int   `json:"download_attempts"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

func (s *Stats) summarize(sum *Summary) {
	sum.Scanned = s.Scanned()
	sum.Kept = s.Kept()
	sum.Skipped = s.Skipped()
	sum.Malformed = s.Malformed()
	sum.Rejected = s.Rejected()
	sum.BatchesDelivered = s.BatchesDelivered()
	sum.RecordsDelivered = s.RecordsDelivered()
	sum.Retries = s.Retries()
	sum.LastBatchIndex = s.LastBatchIndex()
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("download_id", s.DownloadID),
		slog.String("state", string(s.State)),
		slog.Int64("scanned", s.Scanned),
		slog.Int64("kept", s.Kept),
		slog.Int64("skipped", s.Skipped),
		slog.Int64("batches_delivered", s.BatchesDelivered),
		slog.Int64("last_batch_index", s.LastBatchIndex),
		slog.Duration("elapsed", s.Elapsed),
	}
	if s.Error != "" {
		attrs = append(attrs, slog.String("error", s.Error))
	}
	return slog.GroupValue(attrs...)
}

// JSON renders the summary for trackers and machine-readable output.
func (s *Summary) JSON() ([]byte, error) {
	return json.Marshal(s)
}
