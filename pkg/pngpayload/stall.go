package pngpayload

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrStalled signals that the source has no data available yet but may have
// more later. Readers return it to ask the extractor to wait and retry.
var ErrStalled = errors.New("pngpayload: source stalled")

// IsTransient reports whether err is a stall worth waiting out: ErrStalled,
// or any error that reports Timeout() or Temporary().
func IsTransient(err error) bool {
	if errors.Is(err, ErrStalled) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}

// stallReader retries reads that fail transiently after a fixed pause. It sits
// below the chunk parser and the inflater, so a stall never disturbs their state.
type stallReader struct {
	ctx   context.Context
	r     io.Reader
	pause time.Duration
}

func (s *stallReader) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		if err == nil || err == io.EOF || !IsTransient(err) {
			return n, err
		}
		if n > 0 {
			return n, nil
		}

		log.Debugw("source stalled, waiting for more data", "pause", s.pause, "err", err)

		t := time.NewTimer(s.pause)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return 0, s.ctx.Err()
		case <-t.C:
		}
	}
}
