//go:build linux

package hci

import (
	"context"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"bluebridge/internal/btaddr"
)

func ioR(t, nr, size uintptr) uintptr {
	return (2 << 30) | (t << 8) | nr | (size << 16)
}

// arg must only be converted to uintptr inside the Syscall expression.
func ioctl(fd int, op uintptr, arg unsafe.Pointer) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), op, uintptr(arg)); ep != 0 {
		return syscall.Errno(ep)
	}
	return nil
}

const (
	ioctlSize     = 4
	hciMaxDevices = 16
	typHCI        = 72 // 'H'

	hciUp = 0 // bit index in dev_opt / flags
)

var (
	hciGetDeviceList = ioR(typHCI, 210, ioctlSize) // HCIGETDEVLIST
	hciGetDeviceInfo = ioR(typHCI, 211, ioctlSize) // HCIGETDEVINFO
	hciInquiry       = ioR(typHCI, 240, ioctlSize) // HCIINQUIRY
)

type devRequest struct {
	id  uint16
	opt uint32
}

type devListRequest struct {
	devNum     uint16
	devRequest [hciMaxDevices]devRequest
}

type hciDevInfo struct {
	id         uint16
	name       [8]byte
	bdaddr     [6]byte
	flags      uint32
	devType    uint8
	features   [8]uint8
	pktType    uint32
	linkPolicy uint32
	linkMode   uint32
	aclMtu     uint16
	aclPkts    uint16
	scoMtu     uint16
	scoPkts    uint16

	stats hciDevStats
}

type hciDevStats struct {
	errRx  uint32
	errTx  uint32
	cmdTx  uint32
	evtRx  uint32
	aclTx  uint32
	aclRx  uint32
	scoTx  uint32
	scoRx  uint32
	byteRx uint32
	byteTx uint32
}

func openControl() (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		if err == unix.EAFNOSUPPORT || err == unix.EPROTONOSUPPORT {
			return -1, errors.Wrap(ErrNoDevice, err.Error())
		}
		return -1, errors.Wrap(err, "hci: open control socket")
	}
	return fd, nil
}

func devInfo(fd, id int) (Info, error) {
	di := hciDevInfo{id: uint16(id)}
	if err := ioctl(fd, hciGetDeviceInfo, unsafe.Pointer(&di)); err != nil {
		return Info{}, errors.Wrapf(err, "hci: HCIGETDEVINFO hci%d", id)
	}
	name := di.name[:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return Info{
		ID:      int(di.id),
		Name:    string(name),
		Address: btaddr.FromBdaddr(di.bdaddr),
		Up:      di.flags&(1<<hciUp) != 0,
	}, nil
}

// Route returns the id of the first adapter that is up and has an
// address, like hci_get_route(NULL).
func Route() (int, error) {
	fd, err := openControl()
	if err != nil {
		return -1, err
	}
	defer unix.Close(fd)

	req := devListRequest{devNum: hciMaxDevices}
	if err := ioctl(fd, hciGetDeviceList, unsafe.Pointer(&req)); err != nil {
		return -1, errors.Wrap(err, "hci: HCIGETDEVLIST")
	}
	for i := 0; i < int(req.devNum) && i < hciMaxDevices; i++ {
		dr := req.devRequest[i]
		if dr.opt&(1<<hciUp) == 0 {
			continue
		}
		info, err := devInfo(fd, int(dr.id))
		if err != nil || info.Address.IsAny() {
			continue
		}
		return info.ID, nil
	}
	return -1, ErrNoDevice
}

// DeviceInfo returns details of adapter id.
func DeviceInfo(id int) (Info, error) {
	fd, err := openControl()
	if err != nil {
		return Info{}, err
	}
	defer unix.Close(fd)
	return devInfo(fd, id)
}

type inquiryResult struct {
	addrs []btaddr.Address
	err   error
}

// Inquiry runs an inquiry scan on adapter dev. The ioctl cannot be
// interrupted; if ctx ends first Inquiry returns ctx.Err() and the scan
// finishes in the background, closing its socket when done.
func Inquiry(ctx context.Context, dev int, p InquiryParams) ([]btaddr.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fd, err := openControl()
	if err != nil {
		return nil, err
	}

	done := make(chan inquiryResult, 1)
	go func() {
		defer unix.Close(fd)
		buf := encodeInquiry(dev, p)
		if err := ioctl(fd, hciInquiry, unsafe.Pointer(&buf[0])); err != nil {
			done <- inquiryResult{err: errors.Wrapf(err, "hci: HCIINQUIRY hci%d", dev)}
			return
		}
		addrs, err := decodeInquiry(buf)
		done <- inquiryResult{addrs: addrs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.addrs, res.err
	}
}
