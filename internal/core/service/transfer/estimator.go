package transfer

import (
	"sync"
	"time"
)

const chunkAlignment = 256 * 1024

type chunkSample struct {
	size     int64
	duration time.Duration
	ok       bool
}

// Estimator recommends a chunk size bringing chunk durations near a target
type Estimator struct {
	mu      sync.Mutex
	target  time.Duration
	min     int64
	max     int64
	current int64
	window  int
	samples []chunkSample
}

// NewEstimator creates an Estimator starting at initial
func NewEstimator(target time.Duration, minSize, maxSize, initial int64, window int) *Estimator {
	if window <= 0 {
		window = 8
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	return &Estimator{
		target:  target,
		min:     minSize,
		max:     maxSize,
		current: clamp(initial, minSize, maxSize),
		window:  window,
	}
}

// Observe records one chunk outcome
func (e *Estimator) Observe(size int64, duration time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples = append(e.samples, chunkSample{size: size, duration: duration, ok: ok})
	if len(e.samples) > e.window {
		e.samples = e.samples[len(e.samples)-e.window:]
	}
}

// Recommend returns the next chunk size
func (e *Estimator) Recommend() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.samples) == 0 {
		return e.current
	}

	var bytes int64
	var elapsed time.Duration
	failures := 0
	for _, s := range e.samples {
		if !s.ok {
			failures++
			continue
		}
		if s.duration > 0 {
			bytes += s.size
			elapsed += s.duration
		}
	}

	next := e.current
	switch {
	case failures*2 > len(e.samples):
		// mostly failing: smaller chunks are cheaper to retry
		next = e.current / 2
	case elapsed > 0:
		throughput := float64(bytes) / elapsed.Seconds()
		next = int64(throughput * e.target.Seconds())
	}

	if next > chunkAlignment {
		next -= next % chunkAlignment
	}
	e.current = clamp(next, e.min, e.max)
	return e.current
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
