package zone

import (
	"time"

	"codeberg.org/mutker/thermalctl/internal/sensor"
)

// movingAverage is a circular buffer sized for the widest configured window.
type movingAverage struct {
	samples []sensor.Temperature
	next    int
	count   int
}

// newMovingAverage returns nil when smoothing is not configured or any poll
// delay is zero.
func newMovingAverage(pollDelays, windows []time.Duration) *movingAverage {
	if len(windows) == 0 || len(windows) != len(pollDelays) {
		return nil
	}

	size := 1
	for i, d := range pollDelays {
		if d <= 0 {
			return nil
		}
		if n := windowLength(windows[i], d); n > size {
			size = n
		}
	}

	return &movingAverage{samples: make([]sensor.Temperature, size)}
}

func windowLength(window, delay time.Duration) int {
	if delay <= 0 {
		return 1
	}
	n := int(window / delay)
	if n < 1 {
		return 1
	}
	return n
}

func (m *movingAverage) add(v sensor.Temperature) {
	m.samples[m.next] = v
	m.next = (m.next + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
}

// mean averages the newest n samples, or fewer while the buffer fills.
func (m *movingAverage) mean(n int) sensor.Temperature {
	if n > m.count {
		n = m.count
	}
	if n <= 0 {
		return 0
	}

	var sum int64
	idx := m.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(m.samples)) % len(m.samples)
		sum += int64(m.samples[idx])
	}

	return sensor.Temperature(sum / int64(n))
}

func (m *movingAverage) reset() {
	m.next = 0
	m.count = 0
}
