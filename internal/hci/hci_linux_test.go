//go:build linux

package hci

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIoctlPassesPointer(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	_, err := unix.Write(p[1], []byte("abc"))
	require.NoError(t, err)

	var n int32
	require.NoError(t, ioctl(p[0], unix.TIOCINQ, unsafe.Pointer(&n)))
	assert.Equal(t, int32(3), n)
}

func TestIoctlReturnsErrno(t *testing.T) {
	var n int32
	err := ioctl(-1, unix.TIOCINQ, unsafe.Pointer(&n))
	assert.ErrorIs(t, err, unix.EBADF)
}
