package dumpload

import (
	"bufio"
	"bytes"
	"io"
	"iter"

	"github.com/cockroachdb/errors"
)

const lineBufferSize = 256 << 10

// Lines splits r into newline-delimited lines.
//
// A trailing "\r" is stripped, a final line without a terminator is still
// yielded at end of input, and blank or whitespace-only lines are dropped.
// Lines of any length are supported; only the current line is buffered.
//
// The yielded slice is only valid until the next iteration. A read error other
// than io.EOF is yielded once and ends the sequence; the incomplete line that
// preceded it is discarded.
func Lines(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		br := bufio.NewReaderSize(r, lineBufferSize)
		var long []byte

		for {
			chunk, err := br.ReadSlice('\n')
			if errors.Is(err, bufio.ErrBufferFull) {
				long = append(long, chunk...)
				continue
			}
			if err != nil && err != io.EOF {
				yield(nil, err)
				return
			}

			line := chunk
			if len(long) > 0 {
				long = append(long, chunk...)
				line = long
			}

			line = bytes.TrimSuffix(line, []byte("\n"))
			line = bytes.TrimSuffix(line, []byte("\r"))
			if len(bytes.TrimSpace(line)) > 0 {
				if !yield(line, nil) {
					return
				}
			}
			long = long[:0]

			if err == io.EOF {
				return
			}
		}
	}
}
