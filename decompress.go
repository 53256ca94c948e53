package dumpload

import (
	"bufio"
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec names the compression format of the dump.
type Codec string

const (
	CodecAuto Codec = "auto" // detect zstd or gzip from the magic header
	CodecZstd Codec = "zstd"
	CodecGzip Codec = "gzip"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// sourceBufferSize is the read-ahead applied to the compressed stream.
const sourceBufferSize = 64 << 10

// ParseCodec validates a codec name from configuration.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(s); c {
	case CodecAuto, CodecZstd, CodecGzip:
		return c, nil
	case "":
		return CodecAuto, nil
	default:
		return "", errors.Newf("unknown codec %q (want auto, zstd or gzip)", s)
	}
}

// Decompress returns a lazily decompressed view of r.
//
// The first bytes of r are checked against the codec's magic header before any
// decoding happens, so an HTML or XML error page served in place of the dump
// fails fast with a *DumpFormatError that quotes what was received. Read errors
// from r surface as *TransportError; corruption detected while decoding
// surfaces as *DumpFormatError.
//
// Closing the returned reader releases the decoder but does not close r.
func Decompress(r io.Reader, codec Codec) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(&sourceReader{r: r}, sourceBufferSize)

	head, err := br.Peek(previewLimit)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(head) == 0 {
		return nil, &DumpFormatError{Reason: "empty stream"}
	}

	switch codec {
	case CodecAuto, "":
		switch {
		case bytes.HasPrefix(head, zstdMagic):
			codec = CodecZstd
		case bytes.HasPrefix(head, gzipMagic):
			codec = CodecGzip
		default:
			return nil, badMagic("unrecognised compression header", head)
		}
	case CodecZstd:
		if !bytes.HasPrefix(head, zstdMagic) {
			return nil, badMagic("missing zstd magic header", head)
		}
	case CodecGzip:
		if !bytes.HasPrefix(head, gzipMagic) {
			return nil, badMagic("missing gzip magic header", head)
		}
	default:
		return nil, errors.Newf("unknown codec %q", codec)
	}

	if codec == CodecZstd {
		// A single synchronous decoder only pulls input as output is drained.
		dec, err := zstd.NewReader(br,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
		)
		if err != nil {
			return nil, &DumpFormatError{Reason: "zstd init", Err: err}
		}
		rc := dec.IOReadCloser()
		return &decodedReader{r: rc, close: rc.Close}, nil
	}

	gz, err := gzip.NewReader(br)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &DumpFormatError{Reason: "gzip header", Preview: Preview(head), Err: err}
	}
	return &decodedReader{r: gz, close: gz.Close}, nil
}

func badMagic(reason string, head []byte) error {
	err := &DumpFormatError{Reason: reason, Preview: Preview(head)}
	if bytes.HasPrefix(bytes.TrimSpace(head), []byte("<")) {
		return errors.WithHint(err, "the download URL served a markup document; it may have expired")
	}
	return err
}

// sourceReader marks every failure of the compressed byte source as a
// transport failure so it can be told apart from decoder errors.
type sourceReader struct {
	r io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Err: err}
		}
	}
	return n, err
}

// decodedReader classifies decoder failures.
type decodedReader struct {
	r     io.Reader
	close func() error
}

func (d *decodedReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}

	var te *TransportError
	if errors.As(err, &te) {
		return n, te
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, &DumpFormatError{Reason: "truncated stream", Err: err}
	}
	return n, &DumpFormatError{Reason: "corrupt stream", Err: err}
}

func (d *decodedReader) Close() error {
	return d.close()
}
