// Package pngpayload recovers opaque byte payloads hidden in the pixel data of
// PNG images.
//
// The image is decoded progressively, one scanline at a time, so payloads of
// any size stream straight from the network into their destination without
// holding the whole image in memory.
//
// # Payload Layout
//
// The unfiltered scanline bytes of the image, concatenated, form one byte
// stream:
//
//	+----------------+-------------------------+----------------------+
//	| length (4B LE) | payload (length bytes)  | padding (ignored)    |
//	+----------------+-------------------------+----------------------+
//
// Rows carry no structure of their own: the length prefix and the payload may
// cross any number of row boundaries.
//
// # Usage
//
//	n, err := pngpayload.Extract(ctx, resp.Body, file)
//	if errors.Is(err, pngpayload.ErrInsufficientData) {
//	    // the image ended before the declared payload length
//	}
//
// # Stalls
//
// A source that is not ready yet (for example an image that is still being
// produced server-side) may fail a read with [ErrStalled] or any error that
// reports Timeout() or Temporary(). Such reads are retried after a fixed pause
// (see [WithStallBackoff]) until data arrives or the context is done.
package pngpayload
