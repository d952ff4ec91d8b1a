package transfer

import (
	"sync"
	"time"
)

type speedSample struct {
	bytes int64
	start time.Time
	end   time.Time
}

// speedMeter is a trailing moving average over the last completions
type speedMeter struct {
	mu      sync.Mutex
	size    int
	samples []speedSample
	next    int
}

func newSpeedMeter(window int) *speedMeter {
	if window <= 0 {
		window = 1
	}
	return &speedMeter{size: window, samples: make([]speedSample, 0, window)}
}

func (m *speedMeter) add(bytes int64, start, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := speedSample{bytes: bytes, start: start, end: end}
	if len(m.samples) < m.size {
		m.samples = append(m.samples, s)
		return
	}
	m.samples[m.next] = s
	m.next = (m.next + 1) % m.size
}

// rate returns bytes per second over the wall time spanned by the window
func (m *speedMeter) rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return 0
	}
	var total int64
	first, last := m.samples[0].start, m.samples[0].end
	for _, s := range m.samples {
		total += s.bytes
		if s.start.Before(first) {
			first = s.start
		}
		if s.end.After(last) {
			last = s.end
		}
	}
	elapsed := last.Sub(first).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed
}
