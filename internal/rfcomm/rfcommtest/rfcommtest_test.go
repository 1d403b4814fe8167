package rfcommtest

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/btaddr"
	"bluebridge/internal/bterr"
)

var (
	serverAddr = btaddr.MustParse("00:1A:7D:DA:71:13")
	clientAddr = btaddr.MustParse("5C:F3:70:8B:12:34")
)

func TestDialAcceptExchange(t *testing.T) {
	air := NewAir()
	server, client := air.Network(serverAddr), air.Network(clientAddr)

	l, err := server.Listen(btaddr.Channel, 1)
	require.NoError(t, err)
	defer l.Close()

	c, err := client.Dial(context.Background(), serverAddr, btaddr.Channel)
	require.NoError(t, err)
	assert.Equal(t, serverAddr, c.RemoteAddr())

	s, err := l.Accept(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clientAddr, s.RemoteAddr())

	_, err = c.Write([]byte("$GPGGA\n"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "$GPGGA\n", string(buf[:n]))

	assert.Equal(t, 1, client.OpenConns())
	assert.Equal(t, 1, server.OpenConns())
	require.NoError(t, c.Close())
	assert.Equal(t, 0, client.OpenConns())

	_, err = s.Read(buf)
	assert.Equal(t, io.EOF, err)
	_, err = s.Write([]byte("x"))
	assert.True(t, errors.Is(err, syscall.EPIPE))
}

func TestDialUnreachable(t *testing.T) {
	air := NewAir()
	_, err := air.Network(clientAddr).Dial(context.Background(), serverAddr, btaddr.Channel)
	assert.True(t, errors.Is(err, bterr.ConnectFailed))
	assert.True(t, errors.Is(err, syscall.EHOSTDOWN))
}

func TestBacklogFullRefuses(t *testing.T) {
	air := NewAir()
	l, err := air.Network(serverAddr).Listen(btaddr.Channel, 1)
	require.NoError(t, err)
	defer l.Close()

	client := air.Network(clientAddr)
	_, err = client.Dial(context.Background(), serverAddr, btaddr.Channel)
	require.NoError(t, err)
	_, err = client.Dial(context.Background(), serverAddr, btaddr.Channel)
	assert.True(t, errors.Is(err, syscall.ECONNREFUSED))
}

func TestListenTwiceIsBindFailure(t *testing.T) {
	n := NewAir().Network(serverAddr)
	l, err := n.Listen(btaddr.Channel, 1)
	require.NoError(t, err)

	_, err = n.Listen(btaddr.Channel, 1)
	assert.True(t, errors.Is(err, bterr.BindFailed))

	require.NoError(t, l.Close())
	l, err = n.Listen(btaddr.Channel, 1)
	require.NoError(t, err)
	l.Close()

	_, err = n.Listen(btaddr.Channel, 0)
	assert.True(t, errors.Is(err, bterr.ListenFailed))
}

func TestAcceptUnblockedByClose(t *testing.T) {
	l, err := NewAir().Network(serverAddr).Listen(btaddr.Channel, 1)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	l.Close()

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, net.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("Accept did not return after Close")
	}
}

func TestAcceptHonoursContext(t *testing.T) {
	l, err := NewAir().Network(serverAddr).Listen(btaddr.Channel, 1)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Accept(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
