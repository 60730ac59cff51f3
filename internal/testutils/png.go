// Package testutils provides shared test infrastructure: PNG payload
// fixtures, a block-serving HTTP server, and (behind the integration build
// tag) a Minio container for bucket-backed block stores.
package testutils

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"image"
	"image/png"
	"testing"
)

// Stream prefixes payload with its little-endian uint32 length, the layout
// the extractor expects in the pixel data.
func Stream(payload []byte) []byte {
	return StreamWithLength(uint32(len(payload)), payload)
}

// StreamWithLength is like Stream but declares an arbitrary length, which
// lets tests build images that promise more data than they carry.
func StreamWithLength(declared uint32, payload []byte) []byte {
	stream := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(stream, declared)
	copy(stream[4:], payload)
	return stream
}

// EncodeGray hides payload in an 8-bit grayscale PNG that is width pixels
// wide. Bytes after the payload are filled with a deterministic pattern.
func EncodeGray(t testing.TB, payload []byte, width int) []byte {
	t.Helper()
	return EncodeGrayStream(t, Stream(payload), width)
}

// EncodeGrayStream writes stream verbatim as the pixel data of an 8-bit
// grayscale PNG.
func EncodeGrayStream(t testing.TB, stream []byte, width int) []byte {
	t.Helper()
	height := rows(len(stream), width)
	img := image.NewGray(image.Rect(0, 0, width, height))
	fill(img.Pix, stream)
	return encode(t, img)
}

// EncodeGray16 hides payload in a 16-bit grayscale PNG.
func EncodeGray16(t testing.TB, payload []byte, width int) []byte {
	t.Helper()
	stream := Stream(payload)
	height := rows(len(stream), width*2)
	img := image.NewGray16(image.Rect(0, 0, width, height))
	fill(img.Pix, stream)
	return encode(t, img)
}

// EncodeRGBA hides payload in an 8-bit RGBA PNG. A transparent trailing row
// keeps the encoder from dropping the alpha channel.
func EncodeRGBA(t testing.TB, payload []byte, width int) []byte {
	t.Helper()
	stream := Stream(payload)
	height := rows(len(stream), width*4) + 1
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	fill(img.Pix[:len(img.Pix)-width*4], stream)
	return encode(t, img)
}

// EncodeJSON marshals v and hides it in a grayscale PNG.
func EncodeJSON(t testing.TB, v any, width int) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return EncodeGray(t, data, width)
}

// SHA1 returns the hex SHA-1 of data.
func SHA1(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// GenerateTestData returns size bytes of a deterministic pattern seeded by seed.
func GenerateTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7) ^ seed
	}
	return data
}

func rows(n, rowBytes int) int {
	if n == 0 {
		return 1
	}
	return (n + rowBytes - 1) / rowBytes
}

func fill(pix, stream []byte) {
	copy(pix, stream)
	for i := len(stream); i < len(pix); i++ {
		pix[i] = byte(i*31 + 7)
	}
}

func encode(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
