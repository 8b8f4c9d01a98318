package isp

import (
	"sync"
	"time"

	"github.com/smazurov/ispnode/internal/metrics"
)

// queueCounter counts the buffers of one stream queued to the driver.
// Observers starving for buffers wait on it instead of sleeping; every
// put signals it.
type queueCounter struct {
	stream string
	mu     sync.Mutex
	cond   *sync.Cond
	n      int
}

func newQueueCounter(stream string) *queueCounter {
	c := &queueCounter{stream: stream}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *queueCounter) set(n int) {
	c.mu.Lock()
	c.n = n
	c.cond.Broadcast()
	c.mu.Unlock()
	metrics.SetISPQueuedBuffers(c.stream, n)
}

func (c *queueCounter) add(delta int) {
	c.mu.Lock()
	c.n += delta
	n := c.n
	c.cond.Broadcast()
	c.mu.Unlock()
	metrics.SetISPQueuedBuffers(c.stream, n)
}

func (c *queueCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// waitAtLeast blocks until at least min buffers are queued or timeout
// elapses. It reports whether the count was reached.
func (c *queueCounter) waitAtLeast(minQueued int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.n < minQueued {
		if !time.Now().Before(deadline) {
			return false
		}
		c.cond.Wait()
	}
	return true
}
