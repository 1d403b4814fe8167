// Package connmgr manages the RFCOMM sessions of one process: at most one
// active connection (outbound or accepted) and at most one listener.
//
// Thread-safety: all methods are safe for concurrent use. Slot transitions
// are serialized by a mutex; blocking waits (connect, accept, write) run
// outside it, so Close and CloseListener can interrupt them from another
// goroutine.
package connmgr

import (
	"context"

	"bluebridge/internal/btaddr"
)

// Backlog is the number of peers that may queue on the listener while an
// Accept is outstanding.
const Backlog = 1

// Transport is the session surface used by higher layers.
type Transport interface {
	// Open connects to address on the fixed RFCOMM channel.
	// State/usage constraints:
	//   - A malformed address fails with bterr.InvalidAddress before any
	//     socket is touched.
	//   - Any active connection is closed first, then replaced.
	//   - On failure the new endpoint is closed and the connection slot is
	//     left empty before bterr.ConnectFailed is returned.
	Open(ctx context.Context, address string) error

	// Listen binds the wildcard address on the fixed channel with a
	// backlog of Backlog. A previous listener is closed first.
	// Errors: bterr.BindFailed, bterr.ListenFailed.
	Listen() error

	// Accept blocks until a peer connects and returns its address. The
	// accepted connection replaces the active one, which is closed before
	// waiting starts.
	// Cancellation:
	//   - ctx ending, or CloseListener from another goroutine, returns
	//     bterr.Cancelled.
	//   - Other failures return bterr.AcceptFailed; the listener remains
	//     usable for the next Accept.
	//   - Without a listener, returns bterr.NotListening and leaves the
	//     connection slot untouched.
	Accept(ctx context.Context) (btaddr.Address, error)

	// Send writes line exactly as given; no terminator is added. Either all
	// bytes are written or an error is returned.
	// Errors: bterr.NotConnected, bterr.SendFailed.
	Send(line []byte) error

	// Close closes the active connection. Idempotent; never fails.
	Close() error

	// CloseListener closes the listener and unblocks a pending Accept.
	// Idempotent; never fails.
	CloseListener() error
}
