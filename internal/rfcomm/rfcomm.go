// Package rfcomm opens RFCOMM stream endpoints.
//
// Network abstracts endpoint creation so the session manager can run on
// kernel sockets (Sockets) or on the in-memory network of package
// rfcommtest.
package rfcomm

import (
	"context"
	"io"
	"time"

	"bluebridge/internal/btaddr"
)

// Conn is a connected RFCOMM stream. Write either writes all of p or
// returns an error.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	RemoteAddr() btaddr.Address
}

// Listener is a listening RFCOMM endpoint.
type Listener interface {
	// Accept waits for the next peer. It returns early with ctx's error
	// when ctx ends, or with an error wrapping os.ErrClosed or
	// net.ErrClosed when Close is called concurrently. The listener stays
	// usable after a failed Accept unless it was closed.
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// Network creates endpoints.
//
// Dial errors are bterr.ConnectFailed; Listen errors are bterr.BindFailed
// or bterr.ListenFailed. Partially created endpoints are released before
// the error is returned.
type Network interface {
	Dial(ctx context.Context, addr btaddr.Address, channel uint8) (Conn, error)
	// Listen binds the wildcard address on channel.
	Listen(channel uint8, backlog int) (Listener, error)
}

var aLongTimeAgo = time.Unix(1, 0)

// interruptOn forces a deadline through set when ctx ends. The returned
// func must be called once the blocking call has returned; it clears the
// forced deadline so the handle can be reused.
func interruptOn(ctx context.Context, set func(time.Time) error) (restore func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	fired := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			_ = set(aLongTimeAgo)
			fired <- true
		case <-done:
			fired <- false
		}
	}()
	return func() {
		close(done)
		if <-fired {
			_ = set(time.Time{})
		}
	}
}
