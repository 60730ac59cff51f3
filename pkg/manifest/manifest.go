package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ligustah/bdex/pkg/pngpayload"
)

var log = logging.Logger("bdex/manifest")

// DefaultURLTemplate locates the manifest image of an identifier. The
// identifier replaces %s.
const DefaultURLTemplate = "https://i0.hdslb.com/bfs/album/%s.png"

// Common errors.
var (
	ErrInvalidManifest   = errors.New("manifest: invalid manifest")
	ErrInvalidIdentifier = errors.New("manifest: invalid identifier")
	ErrUnsafeFilename    = errors.New("manifest: unsafe filename")
)

// Manifest describes the original file and its blocks. Blocks are in merge
// order.
type Manifest struct {
	CreatedAt int64   `json:"time"`
	Filename  string  `json:"filename"`
	Size      int64   `json:"size"`
	SHA1      string  `json:"sha1"`
	Blocks    []Block `json:"block"`
}

// Block is one content-addressed piece of the original file.
type Block struct {
	// URL is the canonical location of the block image.
	URL string `json:"url"`

	// Size is the declared payload size. Informational only.
	Size int64 `json:"size"`

	// SHA1 is the hex SHA-1 of the payload. It also names the stored block.
	SHA1 string `json:"sha1"`
}

// Getter fetches the body at a URL.
type Getter interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// BlockBytes returns the sum of the declared block sizes.
func (m *Manifest) BlockBytes() int64 {
	var total int64
	for _, b := range m.Blocks {
		total += b.Size
	}
	return total
}

// Validate checks that every block has a URL and a well-formed SHA-1. A
// manifest without blocks is valid and describes an empty file.
func (m *Manifest) Validate() error {
	for i, b := range m.Blocks {
		if b.URL == "" {
			return fmt.Errorf("%w: block %d has no url", ErrInvalidManifest, i)
		}
		if !IsSHA1(b.SHA1) {
			return fmt.Errorf("%w: block %d has malformed sha1 %q", ErrInvalidManifest, i, b.SHA1)
		}
	}
	return nil
}

// IsSHA1 reports whether s is a 40 character hex string.
func IsSHA1(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// Decode extracts and parses the manifest hidden in the PNG read from r.
func Decode(ctx context.Context, r io.Reader, opts ...pngpayload.Option) (*Manifest, error) {
	data, err := pngpayload.Decode(ctx, r, opts...)
	if err != nil {
		return nil, fmt.Errorf("extract manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Fetch downloads and decodes the manifest of id using urlTemplate.
func Fetch(ctx context.Context, g Getter, urlTemplate, id string, opts ...pngpayload.Option) (*Manifest, error) {
	u := URL(urlTemplate, id)
	log.Debugw("fetching manifest", "id", id, "url", u)

	body, err := g.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", id, err)
	}
	defer body.Close()

	m, err := Decode(ctx, body, opts...)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", id, err)
	}

	log.Debugw("manifest decoded", "id", id, "filename", m.Filename, "blocks", len(m.Blocks))
	return m, nil
}

// URL expands urlTemplate for id. An empty template means DefaultURLTemplate.
func URL(urlTemplate, id string) string {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return strings.ReplaceAll(urlTemplate, "%s", id)
}

// ParseIdentifier normalizes a user supplied identifier. A leading
// "scheme://" marker is stripped. The result names a directory, so it must be
// non-empty and free of path separators.
func ParseIdentifier(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	switch {
	case s == "", s == ".", s == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	case strings.ContainsAny(s, `/\`):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidIdentifier, s)
	}
	return s, nil
}

// SafeFilename reduces name to a single path element so that a manifest
// cannot place the output outside the destination directory.
func SafeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	return base, nil
}
