//go:build linux

package rfcomm

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
)

// Sockets is the kernel AF_BLUETOOTH implementation of Network.
//
// Descriptors are non-blocking and wrapped in *os.File, so connect,
// accept and write wait in the runtime poller and can be interrupted by
// deadlines or Close.
type Sockets struct{}

func newSocket() (int, error) {
	return unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
}

func (Sockets) Dial(ctx context.Context, addr btaddr.Address, channel uint8) (Conn, error) {
	const op = "connect"
	fd, err := newSocket()
	if err != nil {
		return nil, bterr.E(bterr.ConnectFailed, op, os.NewSyscallError("socket", err))
	}
	sa := &unix.SockaddrRFCOMM{Addr: addr.Bdaddr(), Channel: channel}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, bterr.E(bterr.ConnectFailed, op, err)
	}

	f := os.NewFile(uintptr(fd), "rfcomm")
	if err == unix.EINPROGRESS {
		if err := waitConnected(ctx, f); err != nil {
			f.Close()
			return nil, bterr.E(bterr.ConnectFailed, op, err)
		}
	}
	return &conn{f: f, remote: addr}, nil
}

// waitConnected blocks until a non-blocking connect completes. RFCOMM
// answers getpeername and reports SO_ERROR 0 while still in BT_CONNECT,
// so only POLLOUT marks the end of the handshake.
func waitConnected(ctx context.Context, f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	restore := interruptOn(ctx, f.SetWriteDeadline)
	var soErr error
	err = rc.Write(func(fd uintptr) bool {
		ready, err := pollOut(int(fd))
		if err != nil {
			soErr = os.NewSyscallError("poll", err)
			return true
		}
		if ready&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) == 0 {
			return false
		}
		n, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		switch {
		case err != nil:
			soErr = os.NewSyscallError("getsockopt", err)
		case n != 0:
			soErr = unix.Errno(n)
		case ready&unix.POLLOUT == 0:
			soErr = unix.ENOTCONN
		}
		return true
	})
	restore()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return soErr
}

// pollOut reports the current POLLOUT/POLLERR/POLLHUP state of fd
// without blocking.
func pollOut(fd int) (int16, error) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(pfd, 0)
		if err == unix.EINTR {
			continue
		}
		return pfd[0].Revents, err
	}
}

func (Sockets) Listen(channel uint8, backlog int) (Listener, error) {
	fd, err := newSocket()
	if err != nil {
		return nil, bterr.E(bterr.BindFailed, "bind", os.NewSyscallError("socket", err))
	}
	sa := &unix.SockaddrRFCOMM{Addr: btaddr.Any.Bdaddr(), Channel: channel}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, bterr.E(bterr.BindFailed, "bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, bterr.E(bterr.ListenFailed, "listen", err)
	}
	return &listener{f: os.NewFile(uintptr(fd), "rfcomm-listen")}, nil
}

type listener struct {
	f      *os.File
	closed atomic.Bool
}

func (l *listener) Accept(ctx context.Context) (Conn, error) {
	rc, err := l.f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		nfd  int
		sa   unix.Sockaddr
		aerr error
	)
	restore := interruptOn(ctx, l.f.SetReadDeadline)
	err = rc.Read(func(fd uintptr) bool {
		nfd, sa, aerr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch aerr {
		case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
			return false
		}
		return true
	})
	restore()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case l.closed.Load():
			// the raw poller reports its own closing error; normalize it
			return nil, fmt.Errorf("accept: %w", os.ErrClosed)
		}
		return nil, err
	}
	if aerr != nil {
		return nil, os.NewSyscallError("accept", aerr)
	}

	remote, ok := sa.(*unix.SockaddrRFCOMM)
	if !ok {
		if peer, err := unix.Getpeername(nfd); err == nil {
			remote, ok = peer.(*unix.SockaddrRFCOMM)
		}
	}
	c := &conn{f: os.NewFile(uintptr(nfd), "rfcomm")}
	if ok {
		c.remote = btaddr.FromBdaddr(remote.Addr)
	}
	return c, nil
}

func (l *listener) Close() error {
	l.closed.Store(true)
	return l.f.Close()
}

type conn struct {
	f      *os.File
	remote btaddr.Address
}

func (c *conn) Read(p []byte) (int, error) { return c.f.Read(p) }

// Write loops until all of p is written; *os.File handles short writes
// and EAGAIN for pollable descriptors.
func (c *conn) Write(p []byte) (int, error) { return c.f.Write(p) }

func (c *conn) Close() error { return c.f.Close() }

func (c *conn) RemoteAddr() btaddr.Address { return c.remote }
