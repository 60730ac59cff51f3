package progress

import (
	"io"

	"github.com/cheggaaa/pb/v3"
)

// MergeBar shows a byte progress bar while blocks are merged.
type MergeBar struct {
	bar *pb.ProgressBar
}

// NewMergeBar creates and starts a bar for total bytes written to out.
func NewMergeBar(total int64, out io.Writer) *MergeBar {
	bar := pb.Full.New(0).
		SetTotal(total).
		SetWriter(out).
		Set(pb.Bytes, true)
	bar.Start()
	return &MergeBar{bar: bar}
}

// Wrap returns a writer that advances the bar as bytes pass through to w.
func (m *MergeBar) Wrap(w io.Writer) io.Writer {
	return m.bar.NewProxyWriter(w)
}

// Current returns the number of bytes counted so far.
func (m *MergeBar) Current() int64 {
	return m.bar.Current()
}

// Finish stops the bar.
func (m *MergeBar) Finish() {
	m.bar.Finish()
}
