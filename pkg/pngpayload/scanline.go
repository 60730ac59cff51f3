package pngpayload

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// Color types.
const (
	ColorGray      uint8 = 0
	ColorRGB       uint8 = 2
	ColorPalette   uint8 = 3
	ColorGrayAlpha uint8 = 4
	ColorRGBA      uint8 = 6
)

// Filter types.
const (
	ftNone    = 0
	ftSub     = 1
	ftUp      = 2
	ftAverage = 3
	ftPaeth   = 4
)

// maxRowBytes bounds the per-row buffer so a hostile header cannot force a
// huge allocation.
const maxRowBytes = 64 << 20

// Common errors.
var (
	ErrNotPNG      = errors.New("pngpayload: not a PNG stream")
	ErrUnsupported = errors.New("pngpayload: unsupported PNG feature")
)

// FormatError reports a malformed PNG stream.
type FormatError string

func (e FormatError) Error() string { return "pngpayload: invalid format: " + string(e) }

// Header holds the IHDR fields that matter for scanline decoding.
type Header struct {
	Width     int
	Height    int
	BitDepth  uint8
	ColorType uint8
}

func (h Header) channels() int {
	switch h.ColorType {
	case ColorRGB:
		return 3
	case ColorGrayAlpha:
		return 2
	case ColorRGBA:
		return 4
	default:
		return 1
	}
}

// RowBytes returns the number of raw bytes in one unfiltered scanline.
func (h Header) RowBytes() int {
	bits := int64(h.Width) * int64(h.channels()) * int64(h.BitDepth)
	return int((bits + 7) / 8)
}

// bytesPerPixel is the filter distance: bytes per complete pixel, rounded up to one.
func (h Header) bytesPerPixel() int {
	bpp := h.channels() * int(h.BitDepth) / 8
	if bpp < 1 {
		return 1
	}
	return bpp
}

func (h Header) validate() error {
	if h.Width <= 0 || h.Height <= 0 {
		return FormatError("zero or negative image dimension")
	}
	ok := false
	switch h.ColorType {
	case ColorGray:
		ok = h.BitDepth == 1 || h.BitDepth == 2 || h.BitDepth == 4 || h.BitDepth == 8 || h.BitDepth == 16
	case ColorPalette:
		ok = h.BitDepth == 1 || h.BitDepth == 2 || h.BitDepth == 4 || h.BitDepth == 8
	case ColorRGB, ColorGrayAlpha, ColorRGBA:
		ok = h.BitDepth == 8 || h.BitDepth == 16
	}
	if !ok {
		return FormatError(fmt.Sprintf("bit depth %d not valid for color type %d", h.BitDepth, h.ColorType))
	}
	if int64(h.Width)*int64(h.channels())*int64(h.BitDepth) > maxRowBytes*8 {
		return fmt.Errorf("%w: row of %d pixels is too wide", ErrUnsupported, h.Width)
	}
	return nil
}

// ScanlineReader decodes a non-interlaced PNG stream row by row.
// It is not safe for concurrent use.
type ScanlineReader struct {
	header  Header
	chunks  *chunkReader
	inflate io.ReadCloser
	bpp     int
	cur     []byte
	prev    []byte
	row     int
}

// NewScanlineReader reads the PNG signature and every chunk up to the first
// IDAT, and returns a reader positioned at the first scanline.
func NewScanlineReader(r io.Reader) (*ScanlineReader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotPNG
		}
		return nil, fmt.Errorf("pngpayload: read signature: %w", err)
	}
	for i := range sig {
		if sig[i] != pngSignature[i] {
			return nil, ErrNotPNG
		}
	}

	c := &chunkReader{r: br, crc: crc32.NewIEEE()}
	header, err := c.readHeader()
	if err != nil {
		return nil, err
	}

	rowBytes := header.RowBytes()
	return &ScanlineReader{
		header: header,
		chunks: c,
		bpp:    header.bytesPerPixel(),
		cur:    make([]byte, rowBytes+1),
		prev:   make([]byte, rowBytes+1),
	}, nil
}

// Header returns the image header.
func (s *ScanlineReader) Header() Header {
	return s.header
}

// NextRow returns the next unfiltered scanline, or io.EOF once every row of
// the image has been returned. The slice is only valid until the next call.
func (s *ScanlineReader) NextRow() ([]byte, error) {
	if s.row >= s.header.Height {
		return nil, io.EOF
	}

	// The zlib header lives in the first IDAT chunk, so inflation starts lazily.
	if s.inflate == nil {
		zr, err := zlib.NewReader(s.chunks)
		if err != nil {
			return nil, fmt.Errorf("pngpayload: open image data: %w", err)
		}
		s.inflate = zr
	}

	if _, err := io.ReadFull(s.inflate, s.cur); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("pngpayload: read row %d: %w", s.row, err)
	}

	if err := unfilter(s.cur[0], s.cur[1:], s.prev[1:], s.bpp); err != nil {
		return nil, fmt.Errorf("row %d: %w", s.row, err)
	}

	s.prev, s.cur = s.cur, s.prev
	s.row++
	return s.prev[1:], nil
}

// Close releases the inflater. It does not close the underlying reader.
func (s *ScanlineReader) Close() error {
	if s.inflate != nil {
		return s.inflate.Close()
	}
	return nil
}

func unfilter(filter byte, cur, prev []byte, bpp int) error {
	switch filter {
	case ftNone:
	case ftSub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case ftUp:
		for i := range cur {
			cur[i] += prev[i]
		}
	case ftAverage:
		for i := 0; i < bpp && i < len(cur); i++ {
			cur[i] += prev[i] / 2
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += uint8((int(cur[i-bpp]) + int(prev[i])) / 2)
		}
	case ftPaeth:
		for i := 0; i < bpp && i < len(cur); i++ {
			cur[i] += prev[i]
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}
	default:
		return FormatError(fmt.Sprintf("unknown filter type %d", filter))
	}
	return nil
}

// paeth implements the Paeth predictor over left (a), up (b) and upper-left (c).
func paeth(a, b, c uint8) uint8 {
	pa := int(b) - int(c)
	pb := int(a) - int(c)
	pc := abs(pa + pb)
	pa, pb = abs(pa), abs(pb)
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// chunkReader walks the chunk sequence and exposes the concatenated IDAT data
// as a single io.Reader. Every chunk it passes is CRC checked.
type chunkReader struct {
	r   *bufio.Reader
	crc hash.Hash32

	remaining uint32 // unread data bytes in the current IDAT chunk
	open      bool   // inside an IDAT chunk whose CRC is still unread
	end       bool   // IEND seen
}

// readHeader consumes IHDR and everything up to the first IDAT chunk.
func (c *chunkReader) readHeader() (Header, error) {
	length, typ, err := c.next()
	if err != nil {
		return Header{}, err
	}
	if typ != "IHDR" || length != 13 {
		return Header{}, FormatError("missing IHDR")
	}
	buf := make([]byte, 13)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return Header{}, truncated(err)
	}
	c.crc.Write(buf)
	if err := c.checkCRC(typ); err != nil {
		return Header{}, err
	}

	h := Header{
		Width:     int(binary.BigEndian.Uint32(buf[0:4])),
		Height:    int(binary.BigEndian.Uint32(buf[4:8])),
		BitDepth:  buf[8],
		ColorType: buf[9],
	}
	if buf[10] != 0 || buf[11] != 0 {
		return Header{}, FormatError("unknown compression or filter method")
	}
	switch buf[12] {
	case 0:
	case 1:
		return Header{}, fmt.Errorf("%w: interlaced image", ErrUnsupported)
	default:
		return Header{}, FormatError("unknown interlace method")
	}
	if err := h.validate(); err != nil {
		return Header{}, err
	}

	for {
		length, typ, err := c.next()
		if err != nil {
			return Header{}, err
		}
		switch {
		case typ == "IDAT":
			c.remaining = length
			c.open = true
			return h, nil
		case typ == "IEND":
			return Header{}, FormatError("no image data")
		case typ == "PLTE" || isAncillary(typ):
			if err := c.skip(typ, length); err != nil {
				return Header{}, err
			}
		default:
			return Header{}, fmt.Errorf("%w: critical chunk %q", ErrUnsupported, typ)
		}
	}
}

// Read implements io.Reader over the concatenated IDAT payloads.
func (c *chunkReader) Read(p []byte) (int, error) {
	for c.remaining == 0 {
		if c.end {
			return 0, io.EOF
		}
		if c.open {
			c.open = false
			if err := c.checkCRC("IDAT"); err != nil {
				return 0, err
			}
		}
		if err := c.advance(); err != nil {
			return 0, err
		}
	}

	if uint32(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.crc.Write(p[:n])
	c.remaining -= uint32(n)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// advance moves to the next IDAT chunk, skipping ancillary chunks, or marks
// the end of the image data at IEND.
func (c *chunkReader) advance() error {
	for {
		length, typ, err := c.next()
		if err != nil {
			return err
		}
		switch {
		case typ == "IDAT":
			c.remaining = length
			c.open = true
			return nil
		case typ == "IEND":
			c.end = true
			return nil
		case isAncillary(typ):
			if err := c.skip(typ, length); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: critical chunk %q inside image data", ErrUnsupported, typ)
		}
	}
}

// next reads a chunk header and primes the CRC with the chunk type.
func (c *chunkReader) next() (uint32, string, error) {
	var buf [8]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, "", truncated(err)
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if length > 1<<31-1 {
		return 0, "", FormatError("chunk length overflow")
	}
	c.crc.Reset()
	c.crc.Write(buf[4:8])
	return length, string(buf[4:8]), nil
}

func (c *chunkReader) skip(typ string, length uint32) error {
	if _, err := io.CopyN(c.crc, c.r, int64(length)); err != nil {
		return truncated(err)
	}
	return c.checkCRC(typ)
}

func (c *chunkReader) checkCRC(typ string) error {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return truncated(err)
	}
	if binary.BigEndian.Uint32(buf[:]) != c.crc.Sum32() {
		return FormatError("checksum mismatch in " + typ + " chunk")
	}
	return nil
}

// isAncillary reports whether the chunk type has the ancillary bit set
// (lowercase first letter).
func isAncillary(typ string) bool {
	return typ[0]&0x20 != 0
}

// truncated maps a clean EOF in the middle of the stream to io.ErrUnexpectedEOF.
func truncated(err error) error {
	if err == io.EOF {
		return fmt.Errorf("pngpayload: stream truncated: %w", io.ErrUnexpectedEOF)
	}
	return err
}
