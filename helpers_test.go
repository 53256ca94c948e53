package dumpload_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/dumpload"
)

// =============================================================================
// Dump Builders
// =============================================================================

func zstdDump(t *testing.T, lines ...string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll([]byte(strings.Join(lines, "\n")), nil)
}

func gzipDump(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// hotel renders a record that passes the default policy.
func hotel(id int) string {
	return fmt.Sprintf(`{"id":"h%d","name":"Hotel %d","star_rating":3}`, id, id)
}

func hotels(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = hotel(i)
	}
	return lines
}

// =============================================================================
// Fake Locator
// =============================================================================

// memLocator serves a fixed dump from memory. Each Open call consumes the next
// entry of bodies; the last entry is reused once the list runs out.
type memLocator struct {
	location dumpload.Location
	err      error
	bodies   []func() io.Reader

	mu     sync.Mutex
	opened int
}

var (
	_ dumpload.Locator = (*memLocator)(nil)
	_ dumpload.Opener  = (*memLocator)(nil)
)

func newMemLocator(dump []byte) *memLocator {
	return &memLocator{
		location: dumpload.Location{URL: "mem://dump", DownloadID: "dl-1", SessionID: "sess-1"},
		bodies:   []func() io.Reader{func() io.Reader { return bytes.NewReader(dump) }},
	}
}

func (l *memLocator) Locate(_ context.Context, _ string) (dumpload.Location, error) {
	return l.location, l.err
}

func (l *memLocator) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := min(l.opened, len(l.bodies)-1)
	l.opened++
	return io.NopCloser(l.bodies[i]()), nil
}

func (l *memLocator) openCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// failingReader yields the first n bytes of data and then fails with err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// =============================================================================
// Fake Sink
// =============================================================================

// memSink records every delivery attempt. fail, when set, decides the result
// of each attempt from the batch index and the attempt number (1-based).
type memSink struct {
	fail func(index, attempt int) error

	mu        sync.Mutex
	attempts  map[int]int
	delivered []dumpload.Batch
	calls     []int
	callIDs   []string
}

var _ dumpload.Sink = (*memSink)(nil)

func newMemSink() *memSink {
	return &memSink{attempts: make(map[int]int)}
}

func (s *memSink) Deliver(_ context.Context, batch dumpload.Batch) (dumpload.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[batch.Index]++
	s.calls = append(s.calls, batch.Index)
	s.callIDs = append(s.callIDs, batch.DownloadID)
	if s.fail != nil {
		if err := s.fail(batch.Index, s.attempts[batch.Index]); err != nil {
			return dumpload.Outcome{}, err
		}
	}
	s.delivered = append(s.delivered, batch)
	return dumpload.Outcome{Accepted: batch.Len(), Counted: true}, nil
}

func (s *memSink) indexes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.delivered))
	for i, b := range s.delivered {
		out[i] = b.Index
	}
	return out
}

func (s *memSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.delivered))
	for i, b := range s.delivered {
		out[i] = b.Len()
	}
	return out
}

func (s *memSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.delivered {
		for _, r := range b.Records {
			out = append(out, r.ID())
		}
	}
	return out
}

func (s *memSink) attemptsFor(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[index]
}

// =============================================================================
// Fake Tracker
// =============================================================================

type memTracker struct {
	startErr    error
	completeErr error

	mu       sync.Mutex
	started  []string
	complete []*dumpload.Summary
}

var _ dumpload.SessionTracker = (*memTracker)(nil)

func (t *memTracker) Start(_ context.Context, downloadID, selector string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = append(t.started, downloadID+"/"+selector)
	return t.startErr
}

func (t *memTracker) Complete(_ context.Context, summary *dumpload.Summary) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *summary
	t.complete = append(t.complete, &cp)
	return t.completeErr
}

// newPipeline returns a pipeline with delays removed for fast tests.
func newPipeline(locator dumpload.Locator, sink dumpload.Sink) *dumpload.Pipeline {
	return dumpload.New(locator, sink).WithBaseDelay(0)
}
