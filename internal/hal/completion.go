package hal

import (
	"context"
	"sync"
)

// Completion is a one-shot flag set from interrupt context and awaited by the
// tick loop. The flag is checked under the lock before waiting, so a Signal
// landing between the check and the wait is never lost.
type Completion struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
}

// NewCompletion returns a cleared Completion.
func NewCompletion() *Completion {
	c := &Completion{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Reset clears the flag before a new capture.
func (c *Completion) Reset() {
	c.mu.Lock()
	c.done = false
	c.mu.Unlock()
}

// Signal sets the flag and wakes the waiter. Safe to call from any goroutine.
func (c *Completion) Signal() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Done reports the flag without blocking.
func (c *Completion) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until Signal or ctx is cancelled.
func (c *Completion) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.done {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return nil
}
