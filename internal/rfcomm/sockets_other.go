//go:build !linux

package rfcomm

import (
	"context"
	"errors"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
)

var errNotSupported = errors.New("rfcomm sockets are only available on linux")

// Sockets is unavailable on this platform; every call fails.
type Sockets struct{}

func (Sockets) Dial(ctx context.Context, addr btaddr.Address, channel uint8) (Conn, error) {
	return nil, bterr.E(bterr.ConnectFailed, "connect", errNotSupported)
}

func (Sockets) Listen(channel uint8, backlog int) (Listener, error) {
	return nil, bterr.E(bterr.BindFailed, "bind", errNotSupported)
}
