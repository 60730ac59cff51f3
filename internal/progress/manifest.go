package progress

import (
	"fmt"
	"io"

	"github.com/ligustah/bdex/pkg/manifest"
)

// PrintManifest writes the manifest header the way a retrieval announces it.
func PrintManifest(w io.Writer, m *manifest.Manifest) {
	fmt.Fprintf(w, "File: %s\n", m.Filename)
	fmt.Fprintf(w, "Size: %d (%s)\n", m.Size, FormatBytes(m.Size))
	fmt.Fprintf(w, "Block count: %d\n", len(m.Blocks))
	fmt.Fprintf(w, "Hash: %s\n", m.SHA1)
}
