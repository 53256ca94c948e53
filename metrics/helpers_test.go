package metrics_test

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/bjaus/dumpload"
)

// memLocator serves a gzip dump of lines from memory.
type memLocator struct {
	lines []string
}

func (l memLocator) Locate(context.Context, string) (dumpload.Location, error) {
	return dumpload.Location{URL: "mem://", DownloadID: "d"}, nil
}

func (l memLocator) Open(context.Context, string) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte(strings.Join(l.lines, "\n")))
	_ = w.Close()
	return io.NopCloser(&buf), nil
}

// flakySink fails its first call with a 503.
type flakySink struct {
	calls int
}

func (s *flakySink) Deliver(context.Context, dumpload.Batch) (dumpload.Outcome, error) {
	s.calls++
	if s.calls == 1 {
		return dumpload.Outcome{}, &dumpload.SinkError{Status: 503}
	}
	return dumpload.Outcome{}, nil
}
