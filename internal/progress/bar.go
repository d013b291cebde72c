package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"musictransfer/internal/model"
	"musictransfer/internal/speed"

	"github.com/gookit/color"
)

const barWidth = 40

// Bar shows how many songs of a batch are finished and the byte progress of
// the most recently updated transfer.
type Bar struct {
	out       io.Writer
	total     int
	current   int
	failed    int
	mu        sync.Mutex
	startTime time.Time
	lastPrint time.Time
	done      bool

	// latest transfer
	name  string
	bytes int64
	size  int64
	rate  float64
}

// New creates a bar for total songs writing to stdout.
func New(total int) *Bar {
	return NewWithWriter(os.Stdout, total)
}

func NewWithWriter(w io.Writer, total int) *Bar {
	return &Bar{
		out:       w,
		total:     total,
		startTime: time.Now(),
	}
}

// Observe binds the bar to m's progress.
func (b *Bar) Observe(m *model.TransferModel) {
	m.SetObserver(model.ObserverFuncs{
		Progress: func(current, total int64) {
			b.Update(m.SongName(), current, total, m.Snapshot().Speed)
		},
	})
}

// Update records byte progress of one transfer.
func (b *Bar) Update(name string, current, total int64, rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.name = name
	b.bytes = current
	b.size = total
	b.rate = rate
	b.maybeRender()
}

// Increment counts one finished song.
func (b *Bar) Increment(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	if failed {
		b.failed++
	}
	b.maybeRender()
}

// Finish marks the progress as complete
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.done {
		b.current = b.total
		b.name = ""
		b.render()
		fmt.Fprintln(b.out)
		b.done = true
	}
}

// maybeRender redraws at most every 500ms, and always on the last song.
func (b *Bar) maybeRender() {
	now := time.Now()
	if now.Sub(b.lastPrint) > 500*time.Millisecond || b.current >= b.total {
		b.render()
		b.lastPrint = now
	}
}

func (b *Bar) render() {
	if b.done || b.total <= 0 {
		return
	}

	percentage := float64(b.current) / float64(b.total) * 100
	elapsed := time.Since(b.startTime)

	var eta time.Duration
	if b.current > 0 {
		avgTime := elapsed / time.Duration(b.current)
		eta = avgTime * time.Duration(b.total-b.current)
	}

	filled := barWidth * b.current / b.total
	bar := color.Green.Sprint(strings.Repeat("█", filled)) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %d/%d (%.1f%%) - Elapsed: %s - ETA: %s",
		bar,
		b.current,
		b.total,
		percentage,
		formatDuration(elapsed),
		formatDuration(eta),
	)
	if b.failed > 0 {
		line += color.Red.Sprintf(" - %d failed", b.failed)
	}
	if b.name != "" {
		line += color.Cyan.Sprintf(" - %s %s %s", b.name, speed.FormatInfo(b.bytes, b.size), speed.FormatSpeed(b.rate))
	}
	fmt.Fprint(b.out, line+"   ")
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
