// Package speed turns cumulative byte counters into a debounced transfer rate.
package speed

import (
	"fmt"
	"sync"
	"time"
)

const (
	KB = 1024
	MB = KB * KB
	GB = MB * KB
)

// MinInterval is the shortest gap between two published rate updates.
const MinInterval = 1000 * time.Millisecond

// Estimator computes bytes/sec from cumulative counts. One Estimator belongs
// to one transfer; it is safe for concurrent use.
type Estimator struct {
	mu         sync.Mutex
	now        func() time.Time
	speed      float64
	lastLength int64
	lastTime   time.Time
}

// New creates an Estimator using the wall clock.
func New() *Estimator {
	return NewWithClock(time.Now)
}

// NewWithClock creates an Estimator that reads time from now.
func NewWithClock(now func() time.Time) *Estimator {
	return &Estimator{now: now}
}

// Calculate records the current cumulative byte count and returns the
// published speed. The value is recomputed at most once per MinInterval;
// in between, the previous value is returned unchanged. A regressing counter
// (restarted download) publishes 0 rather than a negative rate.
func (e *Estimator) Calculate(current int64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	first := e.lastTime.IsZero()
	elapsed := now.Sub(e.lastTime)

	if !first && elapsed < MinInterval {
		return e.speed
	}

	delta := current - e.lastLength
	if !first && elapsed > 0 && delta >= 0 {
		e.speed = float64(delta) / elapsed.Seconds()
	} else {
		e.speed = 0
	}
	e.lastLength = current
	e.lastTime = now
	return e.speed
}

// Speed returns the last published value without recording a sample.
func (e *Estimator) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// FormatSpeed renders bytes/sec for display, e.g. "512 B/S" or "1.50 MB/S".
func FormatSpeed(speed float64) string {
	switch {
	case speed <= 0:
		return "0KB/S"
	case speed < KB:
		return fmt.Sprintf("%.0f B/S", speed)
	case speed < MB:
		return fmt.Sprintf("%.2f KB/S", speed/KB)
	case speed < GB:
		return fmt.Sprintf("%.2f MB/S", speed/MB)
	default:
		return fmt.Sprintf("%.2f GB/S", speed/GB)
	}
}

// FormatInfo renders "current/total" in megabytes, e.g. "1.50M/3.00M".
func FormatInfo(current, total int64) string {
	return fmt.Sprintf("%.2fM/%.2fM", float64(current)/MB, float64(total)/MB)
}
