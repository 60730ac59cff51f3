package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Prefix starts every status line written by the reporter.
const Prefix = "[bdex]"

// Options configures the progress reporter.
type Options struct {
	// TotalBytes is the declared size of all blocks.
	TotalBytes int64

	// TotalBlocks is the number of blocks in the manifest.
	TotalBlocks int

	// Workers is the number of parallel workers.
	Workers int

	// Filename is the file being retrieved (for display).
	Filename string

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// Periodic enables a status line every UpdateInterval.
	Periodic bool

	// UpdateInterval is how often to print the periodic status.
	// Default: 2s
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. All methods are
// safe for concurrent use; lines from different blocks never interleave.
type Reporter struct {
	opts Options

	mu              sync.Mutex // serializes output
	completedBytes  atomic.Int64
	completedBlocks atomic.Int32
	inProgress      atomic.Int32
	failedBlocks    atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastBytes       int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 2 * time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and, if enabled, begins periodic status output.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.started = true

	fmt.Fprintf(r.opts.Output, "%s Retrieving: %s\n", Prefix, r.opts.Filename)
	fmt.Fprintf(r.opts.Output, "%s Total size: %s | Blocks: %d | Workers: %d\n",
		Prefix,
		FormatBytes(r.opts.TotalBytes),
		r.opts.TotalBlocks,
		r.opts.Workers,
	)

	if r.opts.Periodic {
		go r.updateLoop()
	} else {
		close(r.doneCh)
	}
}

// Stop stops periodic output and prints the final summary.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
	r.printFinalStatus()
}

// line writes one block line in the "[i/n] ..." form. index is zero based.
func (r *Reporter) line(index int, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, "[%d/%d] ", index+1, r.opts.TotalBlocks)
	fmt.Fprintf(r.opts.Output, format, args...)
	fmt.Fprintln(r.opts.Output)
}

// BlockSkipped reports a stored block accepted without hashing.
func (r *Reporter) BlockSkipped(index int, hash string, size int64) {
	r.completedBlocks.Add(1)
	r.completedBytes.Add(size)
	r.line(index, "Skip %s...", hash)
}

// BlockMatched reports a stored block whose hash matched.
func (r *Reporter) BlockMatched(index int, hash string, size int64) {
	r.completedBlocks.Add(1)
	r.completedBytes.Add(size)
	r.line(index, "Match %s...", hash)
}

// BlockStarted reports the start of a download attempt. attempt is zero
// based.
func (r *Reporter) BlockStarted(index int, hash string, attempt, budget int) {
	r.inProgress.Add(1)
	if attempt == 0 {
		r.line(index, "Downloading %s...", hash)
		return
	}
	r.line(index, "Downloading %s (attempt %d/%d)...", hash, attempt+1, budget)
}

// BlockCompleted reports a successful download of size bytes.
func (r *Reporter) BlockCompleted(index int, hash string, size int64) {
	r.inProgress.Add(-1)
	r.completedBlocks.Add(1)
	r.completedBytes.Add(size)
	r.line(index, "Done %s (%s)", hash, FormatBytes(size))
}

// BlockRetry reports a failed attempt that will be retried.
func (r *Reporter) BlockRetry(index int, hash string, err error) {
	r.inProgress.Add(-1)
	r.line(index, "Error %s: %v", hash, err)
}

// BlockFailed reports a block that exhausted its attempt budget.
func (r *Reporter) BlockFailed(index int, hash string, attempts int, err error) {
	r.inProgress.Add(-1)
	r.failedBlocks.Add(1)
	r.line(index, "Failed %s after %d attempts: %v", hash, attempts, err)
}

// BlockMerging reports that a block is being appended to the output.
func (r *Reporter) BlockMerging(index int, hash string) {
	r.line(index, "Merging %s...", hash)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	completed := r.completedBytes.Load()
	completedBlocks := int(r.completedBlocks.Load())
	inProgress := int(r.inProgress.Load())
	failed := int(r.failedBlocks.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	eta := "calculating..."
	if r.opts.TotalBytes > 0 {
		percent = float64(completed) / float64(r.opts.TotalBytes) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalBytes - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	pending := r.opts.TotalBlocks - completedBlocks - inProgress - failed
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "%s Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s\n",
		Prefix,
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalBytes),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "%s Blocks: %d completed | %d in-progress | %d failed | %d pending\n",
		Prefix,
		completedBlocks,
		inProgress,
		failed,
		pending,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()

	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	var avgSpeed float64
	if s := duration.Seconds(); s > 0 {
		avgSpeed = float64(completed) / s
	}

	fmt.Fprintf(r.opts.Output, "%s Blocks: %d/%d ready | %d failed | %s\n",
		Prefix,
		r.completedBlocks.Load(),
		r.opts.TotalBlocks,
		r.failedBlocks.Load(),
		FormatBytes(completed),
	)
	fmt.Fprintf(r.opts.Output, "%s Total time: %s | Average speed: %s/s\n",
		Prefix,
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes as a human-readable IEC string.
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}
