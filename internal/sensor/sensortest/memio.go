// Package sensortest provides an in-memory sensor.IO for tests.
package sensortest

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/thermalctl/internal/sensor"
)

// MemIO keeps handle values in memory and records every write.
type MemIO struct {
	mu     sync.Mutex
	values map[string]int
	queued map[string][]int
	fail   map[string]bool
	writes map[string][]int
}

func New() *MemIO {
	return &MemIO{
		values: make(map[string]int),
		queued: make(map[string][]int),
		fail:   make(map[string]bool),
		writes: make(map[string][]int),
	}
}

// Set makes handle exist with value v.
func (m *MemIO) Set(handle string, v int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[handle] = v
}

// Queue appends values returned by successive reads of handle. The last
// queued value sticks once the queue drains.
func (m *MemIO) Queue(handle string, vs ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[handle]; !ok && len(vs) > 0 {
		m.values[handle] = vs[0]
	}
	m.queued[handle] = append(m.queued[handle], vs...)
}

// Fail makes reads and writes of handle return an error.
func (m *MemIO) Fail(handle string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[handle] = fail
}

func (m *MemIO) Read(handle string) (sensor.Temperature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail[handle] {
		return 0, fmt.Errorf("read %s: injected failure", handle)
	}
	if q := m.queued[handle]; len(q) > 0 {
		m.values[handle] = q[0]
		m.queued[handle] = q[1:]
	}
	v, ok := m.values[handle]
	if !ok {
		return 0, fmt.Errorf("read %s: no such handle", handle)
	}

	return sensor.Temperature(v), nil
}

func (m *MemIO) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[path]
	return ok
}

func (m *MemIO) Write(path string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail[path] {
		return fmt.Errorf("write %s: injected failure", path)
	}
	m.values[path] = value
	m.writes[path] = append(m.writes[path], value)

	return nil
}

// Writes returns every value written to path, oldest first.
func (m *MemIO) Writes(path string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.writes[path]))
	copy(out, m.writes[path])
	return out
}
