//go:build linux

package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const sockFlags = unix.SOCK_STREAM | unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC

// fullPair returns a connected socket whose send buffer is full, and the
// peer descriptor. Such a socket answers getpeername but is not writable,
// like an RFCOMM socket still in BT_CONNECT.
func fullPair(t *testing.T) (*os.File, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, sockFlags, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[1]) })

	chunk := make([]byte, 64<<10)
	for {
		_, err := unix.Write(fds[0], chunk)
		if err == unix.EAGAIN {
			break
		}
		require.NoError(t, err)
	}
	_, err = unix.Getpeername(fds[0])
	require.NoError(t, err)

	f := os.NewFile(uintptr(fds[0]), "pair")
	t.Cleanup(func() { f.Close() })
	return f, fds[1]
}

func drain(fd int) {
	buf := make([]byte, 64<<10)
	for {
		if _, err := unix.Read(fd, buf); err != nil {
			return
		}
	}
}

func TestWaitConnectedWaitsForWritable(t *testing.T) {
	f, peer := fullPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := waitConnected(ctx, f)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	time.AfterFunc(20*time.Millisecond, func() { drain(peer) })
	start := time.Now()
	require.NoError(t, waitConnected(context.Background(), f))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestWaitConnectedReportsSocketError(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	fd, err := unix.Socket(unix.AF_INET, sockFlags, 0)
	require.NoError(t, err)
	err = unix.Connect(fd, &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}})
	if err == unix.ECONNREFUSED {
		unix.Close(fd)
		t.Skip("connect refused synchronously")
	}
	require.ErrorIs(t, err, unix.EINPROGRESS)
	f := os.NewFile(uintptr(fd), "tcp")
	defer f.Close()

	err = waitConnected(context.Background(), f)
	assert.ErrorIs(t, err, unix.ECONNREFUSED)
}

func TestWaitConnectedSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	fd, err := unix.Socket(unix.AF_INET, sockFlags, 0)
	require.NoError(t, err)
	err = unix.Connect(fd, &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}})
	if err != nil {
		require.ErrorIs(t, err, unix.EINPROGRESS)
	}
	f := os.NewFile(uintptr(fd), "tcp")
	defer f.Close()

	assert.NoError(t, waitConnected(context.Background(), f))
}

// unixListener returns a listener on an abstract unix socket and the
// address clients dial.
func unixListener(t *testing.T) (*listener, string) {
	t.Helper()
	name := fmt.Sprintf("@bluebridge-test-%d-%d", os.Getpid(), time.Now().UnixNano())
	fd, err := unix.Socket(unix.AF_UNIX, sockFlags, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Bind(fd, &unix.SockaddrUnix{Name: name}))
	require.NoError(t, unix.Listen(fd, 1))
	l := &listener{f: os.NewFile(uintptr(fd), "unix-listen")}
	t.Cleanup(func() { l.Close() })
	return l, name
}

func TestListenerAcceptWaitsForPeer(t *testing.T) {
	l, name := unixListener(t)

	dialed := make(chan net.Conn, 1)
	time.AfterFunc(20*time.Millisecond, func() {
		c, _ := net.Dial("unix", name)
		dialed <- c
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := l.Accept(ctx)
	require.NoError(t, err)
	defer c.Close()
	if out := <-dialed; out != nil {
		defer out.Close()
	}
	assert.True(t, c.RemoteAddr().IsAny(), "non-RFCOMM peers have no device address")
}

func TestListenerAcceptCancelled(t *testing.T) {
	l, _ := unixListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := l.Accept(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// a cancelled accept leaves the listener usable
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = l.Accept(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	l, _ := unixListener(t)

	errc := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, os.ErrClosed), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("Accept did not return after Close")
	}
}
