// Package relay fans newline-delimited text out to connected clients:
// an outbound or accepted Bluetooth peer and any number of TCP clients.
// Lines are opaque; the relay never looks inside them.
package relay

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueue is the per-client backlog; older lines are dropped first.
const DefaultQueue = 16

// Client receives broadcast lines.
type Client interface {
	// Send queues line for delivery and never blocks.
	Send(line string)
	// Close stops delivery and releases the client's connection.
	Close()
	String() string
}

// Hub is the set of clients lines are broadcast to.
type Hub struct {
	log *logrus.Entry

	mu      sync.Mutex
	clients []Client
}

func NewHub(log *logrus.Entry) *Hub {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Hub{log: log.WithField("component", "relay")}
}

func (h *Hub) Add(c Client) {
	h.mu.Lock()
	h.clients = append(h.clients, c)
	h.mu.Unlock()
	h.log.WithField("client", c.String()).Info("client added")
}

// Remove drops c without closing it. It reports whether c was present.
func (h *Hub) Remove(c Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.clients {
		if x == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			return true
		}
	}
	return false
}

// Fail removes and closes a client whose connection broke.
func (h *Hub) Fail(c Client, err error) {
	if h.Remove(c) {
		h.log.WithError(err).WithField("client", c.String()).Warn("client failed")
	}
	c.Close()
}

// Broadcast queues line on every client.
func (h *Hub) Broadcast(line string) {
	h.mu.Lock()
	clients := append([]Client(nil), h.clients...)
	h.mu.Unlock()
	for _, c := range clients {
		c.Send(line)
	}
}

// Clients lists the connected clients in the order they were added.
func (h *Hub) Clients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.clients))
	for i, c := range h.clients {
		out[i] = c.String()
	}
	return out
}

// Run broadcasts every line read from r until EOF or ctx ends. A read
// blocked inside r is abandoned, not interrupted, when ctx ends.
func (h *Hub) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			h.Broadcast(line)
		}
	}
}

// Flush waits for every client that buffers lines to write them out.
func (h *Hub) Flush(ctx context.Context) error {
	h.mu.Lock()
	clients := append([]Client(nil), h.clients...)
	h.mu.Unlock()
	for _, c := range clients {
		f, ok := c.(interface{ Flush(context.Context) error })
		if !ok {
			continue
		}
		if err := f.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes and forgets every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
