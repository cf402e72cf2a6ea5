package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports the progress of an acquire run.
type ProgressReporter interface {
	Start(total int64)
	Record(granted bool)
	Finish()
	Error(err error)
}

// AcquireProgress renders a bar with granted and denied counts.
type AcquireProgress struct {
	mu      sync.Mutex
	total   int64
	granted int64
	denied  int64
	started time.Time
	writer  io.Writer
}

// NewProgressReporter creates a new progress reporter that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer) *AcquireProgress {
	if w == nil {
		w = os.Stderr
	}
	return &AcquireProgress{writer: w}
}

// Start resets the counters for total acquisitions.
func (p *AcquireProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.granted, p.denied = 0, 0
	p.started = time.Now()
	p.render()
}

// Record counts one acquisition.
func (p *AcquireProgress) Record(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if granted {
		p.granted++
	} else {
		p.denied++
	}
	p.render()
}

// Finish ends the bar line.
func (p *AcquireProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	fmt.Fprintln(p.writer)
}

// Error reports a failed acquisition.
func (p *AcquireProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.writer, "\n✗ Error: %v\n", err)
}

// Counts returns the granted and denied totals.
func (p *AcquireProgress) Counts() (granted, denied int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted, p.denied
}

func (p *AcquireProgress) render() {
	if p.total == 0 {
		return
	}

	done := p.granted + p.denied
	barWidth := 40
	filled := int(int64(barWidth) * done / p.total)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	rate := 0.0
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(done) / elapsed
	}

	fmt.Fprintf(p.writer, "\rAcquire: [%s] %d/%d granted=%d denied=%d %.1f req/s",
		bar, done, p.total, p.granted, p.denied, rate)
}
