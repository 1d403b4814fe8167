package relay

import (
	"context"
	"io"
	"sync"
)

// StreamClient delivers queued lines to a stream from its own goroutine,
// appending "\n" to each.
type StreamClient struct {
	name      string
	w         io.WriteCloser
	limit     int
	onFailure func(Client, error)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	busy    bool
	closed  bool
	dropped int

	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamClient starts delivering to w. limit bounds the queue (<= 0
// means DefaultQueue). onFailure, if set, is called once when a write
// fails; it runs after the delivery goroutine has stopped, so it may call
// Close.
func NewStreamClient(name string, w io.WriteCloser, limit int, onFailure func(Client, error)) *StreamClient {
	if limit <= 0 {
		limit = DefaultQueue
	}
	c := &StreamClient{
		name:      name,
		w:         w,
		limit:     limit,
		onFailure: onFailure,
		done:      make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.run()
	return c
}

func (c *StreamClient) String() string { return c.name }

func (c *StreamClient) Send(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if len(c.queue) >= c.limit {
		c.queue = c.queue[1:]
		c.dropped++
	}
	c.queue = append(c.queue, line)
	c.cond.Broadcast()
}

// Dropped counts lines discarded because the queue was full.
func (c *StreamClient) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Flush waits until every queued line has been written, delivery has
// stopped, or ctx ends.
func (c *StreamClient) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for (len(c.queue) > 0 || c.busy) && !c.closed && ctx.Err() == nil {
		c.cond.Wait()
	}
	return ctx.Err()
}

// Done is closed when delivery has stopped.
func (c *StreamClient) Done() <-chan struct{} { return c.done }

func (c *StreamClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	c.closeOnce.Do(func() { c.w.Close() })
	<-c.done
}

func (c *StreamClient) run() {
	err := c.deliver()
	close(c.done)
	if err != nil && c.onFailure != nil {
		c.onFailure(c, err)
	}
}

func (c *StreamClient) deliver() error {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		line := c.queue[0]
		c.queue = c.queue[1:]
		c.busy = true
		c.mu.Unlock()

		_, err := io.WriteString(c.w, line+"\n")

		c.mu.Lock()
		c.busy = false
		closed := c.closed
		if err != nil {
			c.closed = true
		}
		c.cond.Broadcast()
		c.mu.Unlock()
		if err != nil {
			if closed {
				return nil
			}
			return err
		}
	}
}
