package thermal

import "sync"

// criticalTracker flags zones waiting on an emergency shutdown. count always
// equals the number of flagged zones.
type criticalTracker struct {
	mu      sync.Mutex
	pending map[int]bool
	count   int
}

func newCriticalTracker() *criticalTracker {
	return &criticalTracker{pending: make(map[int]bool)}
}

// enter flags zoneID and reports whether it was newly flagged.
func (c *criticalTracker) enter(zoneID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[zoneID] {
		return false
	}
	c.pending[zoneID] = true
	c.count++
	return true
}

func (c *criticalTracker) leave(zoneID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending[zoneID] {
		return false
	}
	delete(c.pending, zoneID)
	c.count--
	return true
}

func (c *criticalTracker) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = make(map[int]bool)
	c.count = 0
}

func (c *criticalTracker) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *criticalTracker) isPending(zoneID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[zoneID]
}
