package pngpayload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bdex/pngpayload")

// DefaultStallBackoff is the pause between retries of a stalled read.
const DefaultStallBackoff = time.Second

// lengthPrefixSize is the size of the little-endian payload length that
// opens the pixel stream.
const lengthPrefixSize = 4

// ErrInsufficientData is returned when the image runs out of rows before the
// declared payload length has been produced.
var ErrInsufficientData = errors.New("pngpayload: insufficient data")

// Options configures payload extraction.
type Options struct {
	// StallBackoff is the pause before retrying a read that failed transiently.
	// Default: 1s
	StallBackoff time.Duration
}

// Option is a functional option for configuring extraction.
type Option func(*Options)

// WithStallBackoff sets the pause between retries of a stalled read.
func WithStallBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.StallBackoff = d
	}
}

// Extract streams the payload hidden in the PNG read from r into w and
// returns the number of payload bytes written.
//
// Returns an error if:
//   - r is not a PNG stream or is malformed (ErrNotPNG, FormatError, ErrUnsupported)
//   - the image ends before the declared length (ErrInsufficientData)
//   - w fails
//   - ctx is done while waiting out a stall
//
// On error, bytes already written to w are not rolled back; callers writing
// to durable storage should discard the destination.
func Extract(ctx context.Context, r io.Reader, w io.Writer, options ...Option) (int64, error) {
	opts := Options{
		StallBackoff: DefaultStallBackoff,
	}
	for _, opt := range options {
		opt(&opts)
	}

	src := &stallReader{
		ctx:   ctx,
		r:     r,
		pause: opts.StallBackoff,
	}

	sr, err := NewScanlineReader(src)
	if err != nil {
		return 0, err
	}
	defer sr.Close()

	var (
		prefix    [lengthPrefixSize]byte
		have      int
		remaining int64 = -1 // unknown until the prefix is complete
		written   int64
	)

	for remaining != 0 {
		row, err := sr.NextRow()
		if err == io.EOF {
			if remaining < 0 {
				return 0, fmt.Errorf("%w: image ended inside the length prefix", ErrInsufficientData)
			}
			return written, fmt.Errorf("%w: got %d of %d payload bytes", ErrInsufficientData, written, written+remaining)
		}
		if err != nil {
			return written, err
		}

		if remaining < 0 {
			k := copy(prefix[have:], row)
			have += k
			row = row[k:]
			if have < lengthPrefixSize {
				continue
			}
			remaining = int64(binary.LittleEndian.Uint32(prefix[:]))
			log.Debugw("payload length", "bytes", remaining, "width", sr.Header().Width, "height", sr.Header().Height)
		}

		if int64(len(row)) > remaining {
			row = row[:remaining]
		}
		if len(row) == 0 {
			continue
		}

		n, err := w.Write(row)
		written += int64(n)
		remaining -= int64(n)
		if err != nil {
			return written, fmt.Errorf("pngpayload: write payload: %w", err)
		}
	}

	return written, nil
}

// Decode extracts the payload into memory. Use it for small payloads such
// as manifests.
func Decode(ctx context.Context, r io.Reader, options ...Option) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Extract(ctx, r, &buf, options...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
