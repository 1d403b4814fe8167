// Package rfcommtest provides an in-memory rfcomm.Network for tests.
//
// An Air connects any number of Networks, each with its own local device
// address. Dialing an address succeeds when a Network with that local
// address listens on the channel; the accepting side sees the dialer's
// local address as RemoteAddr. Writes are buffered and never block.
package rfcommtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
	"bluebridge/internal/rfcomm"
)

type endpoint struct {
	addr    btaddr.Address
	channel uint8
}

// Air is the shared medium between Networks.
type Air struct {
	mu        sync.Mutex
	listeners map[endpoint]*Listener
}

func NewAir() *Air {
	return &Air{listeners: make(map[endpoint]*Listener)}
}

// Network returns a Network whose radio has address local.
func (a *Air) Network(local btaddr.Address) *Network {
	return &Network{air: a, local: local}
}

// Network is an rfcomm.Network on an Air.
type Network struct {
	air   *Air
	local btaddr.Address

	mu    sync.Mutex
	open  int
	dials int
	// DialErr, when set, fails every Dial with a ConnectFailed wrapping it.
	DialErr error
}

var _ rfcomm.Network = (*Network)(nil)

// LocalAddr is the address peers see when this network dials them.
func (n *Network) LocalAddr() btaddr.Address { return n.local }

// OpenConns counts connections created through n that are not closed yet.
func (n *Network) OpenConns() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.open
}

// Dials counts Dial calls.
func (n *Network) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

func (n *Network) track() func() {
	n.mu.Lock()
	n.open++
	n.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			n.open--
			n.mu.Unlock()
		})
	}
}

func (n *Network) Dial(ctx context.Context, addr btaddr.Address, channel uint8) (rfcomm.Conn, error) {
	n.mu.Lock()
	n.dials++
	dialErr := n.DialErr
	n.mu.Unlock()
	if dialErr != nil {
		return nil, bterr.E(bterr.ConnectFailed, "connect", dialErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, bterr.E(bterr.ConnectFailed, "connect", err)
	}

	n.air.mu.Lock()
	l := n.air.listeners[endpoint{addr, channel}]
	n.air.mu.Unlock()
	if l == nil {
		return nil, bterr.E(bterr.ConnectFailed, "connect", syscall.EHOSTDOWN)
	}

	toServer, toClient := newPipe(), newPipe()
	client := &Conn{r: toClient, w: toServer, remote: addr}
	server := &Conn{r: toServer, w: toClient, remote: n.local}
	if !l.enqueue(server) {
		return nil, bterr.E(bterr.ConnectFailed, "connect", syscall.ECONNREFUSED)
	}
	client.release = n.track()
	return client, nil
}

func (n *Network) Listen(channel uint8, backlog int) (rfcomm.Listener, error) {
	if backlog < 1 {
		return nil, bterr.E(bterr.ListenFailed, "listen", syscall.EINVAL)
	}
	key := endpoint{n.local, channel}
	n.air.mu.Lock()
	defer n.air.mu.Unlock()
	if _, busy := n.air.listeners[key]; busy {
		return nil, bterr.E(bterr.BindFailed, "bind", syscall.EADDRINUSE)
	}
	l := &Listener{
		net:     n,
		key:     key,
		backlog: make(chan *Conn, backlog),
		closed:  make(chan struct{}),
	}
	n.air.listeners[key] = l
	return l, nil
}

// Listener is the in-memory rfcomm.Listener.
type Listener struct {
	net     *Network
	key     endpoint
	backlog chan *Conn

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *Listener) enqueue(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.backlog <- c:
		return true
	default:
		return false
	}
}

func (l *Listener) Accept(ctx context.Context) (rfcomm.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, fmt.Errorf("accept: %w", net.ErrClosed)
	case c := <-l.backlog:
		c.release = l.net.track()
		return c, nil
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.net.air.mu.Lock()
		if l.net.air.listeners[l.key] == l {
			delete(l.net.air.listeners, l.key)
		}
		l.net.air.mu.Unlock()

		l.mu.Lock()
		close(l.closed)
		l.mu.Unlock()
		for {
			select {
			case c := <-l.backlog:
				c.Close()
			default:
				return
			}
		}
	})
	return nil
}

// Conn is one side of an in-memory connection.
type Conn struct {
	r, w    *pipe
	remote  btaddr.Address
	release func()
}

func (c *Conn) Read(p []byte) (int, error)  { return c.r.read(p) }
func (c *Conn) Write(p []byte) (int, error) { return c.w.write(p) }

func (c *Conn) Close() error {
	c.r.close()
	c.w.close()
	if c.release != nil {
		c.release()
	}
	return nil
}

func (c *Conn) RemoteAddr() btaddr.Address { return c.remote }

// pipe is an unbounded one-way byte stream.
type pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newPipe() *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() == 0 {
		return 0, io.EOF
	}
	return p.buf.Read(b)
}

func (p *pipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, syscall.EPIPE
	}
	p.cond.Broadcast()
	return p.buf.Write(b)
}

func (p *pipe) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}
