package relay

import (
	"context"
	"errors"
	"time"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
	"bluebridge/internal/connmgr"
)

// acceptRetryDelay spaces out accepts after a failure.
const acceptRetryDelay = 250 * time.Millisecond

// sessionWriter writes through the session's active connection.
type sessionWriter struct {
	t connmgr.Transport
}

func (w sessionWriter) Write(p []byte) (int, error) {
	if err := w.t.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w sessionWriter) Close() error { return w.t.Close() }

// NewBluetoothPeer returns a client delivering lines over the active
// connection of t. Closing the client closes that connection.
func NewBluetoothPeer(t connmgr.Transport, addr btaddr.Address, queue int, onFailure func(Client, error)) *StreamClient {
	return NewStreamClient("bluetooth ["+addr.String()+"]", sessionWriter{t}, queue, onFailure)
}

// ServeBluetooth listens on t and serves one accepted peer at a time: a
// peer stays registered with hub until its connection fails, then the
// next peer is accepted. It returns nil once ctx ends.
func ServeBluetooth(ctx context.Context, t connmgr.Transport, hub *Hub, queue int) error {
	if err := t.Listen(); err != nil {
		return err
	}
	defer t.CloseListener()

	for {
		addr, err := t.Accept(ctx)
		switch {
		case err == nil:
		case errors.Is(err, bterr.Cancelled) && ctx.Err() != nil:
			return nil
		case errors.Is(err, bterr.AcceptFailed):
			hub.log.WithError(err).Warn("bluetooth accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		default:
			return err
		}

		p := NewBluetoothPeer(t, addr, queue, hub.Fail)
		hub.Add(p)
		select {
		case <-ctx.Done():
			hub.Remove(p)
			p.Close()
			return nil
		case <-p.Done():
			// Close waits for any in-flight close of the connection, so the
			// next Accept cannot have its connection torn down by this peer.
			p.Close()
		}
	}
}
