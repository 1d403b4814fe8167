// Package hci talks to the local Bluetooth controller through raw HCI
// sockets: resolving the default radio route and running inquiry scans.
package hci

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"bluebridge/internal/btaddr"
)

var (
	// ErrNoDevice is returned when no usable adapter is up.
	ErrNoDevice = errors.New("hci: no bluetooth device available")
	// ErrNotSupported is returned on platforms without HCI sockets.
	ErrNotSupported = errors.New("hci: bluetooth not supported on this platform")
)

// LengthUnit is the duration of one inquiry length unit.
const LengthUnit = 1280 * time.Millisecond

const (
	// kernel clamps num_rsp to this when the request carries 0
	maxInquiryResponses = 255

	inquiryReqSize  = 10 // sizeof(struct hci_inquiry_req), padded
	inquiryInfoSize = 14 // sizeof(inquiry_info), packed

	flagCacheFlush = 0x0001 // IREQ_CACHE_FLUSH
)

// General inquiry access code.
var giac = [3]byte{0x33, 0x8b, 0x9e}

// InquiryParams controls one inquiry scan.
type InquiryParams struct {
	// Length of the inquiry in units of 1.28s.
	Length uint8
	// MaxResponses caps the number of reported devices. Values outside
	// 1..255 mean "as many as the controller allows" (255).
	MaxResponses int
	// FlushCache discards the kernel inquiry cache before scanning.
	FlushCache bool
}

// Window returns how long the inquiry is expected to take.
func (p InquiryParams) Window() time.Duration {
	return time.Duration(p.Length) * LengthUnit
}

func (p InquiryParams) numRsp() uint8 {
	if p.MaxResponses <= 0 || p.MaxResponses > maxInquiryResponses {
		return 0
	}
	return uint8(p.MaxResponses)
}

// Info describes a local adapter.
type Info struct {
	ID      int
	Name    string
	Address btaddr.Address
	Up      bool
}

// encodeInquiry lays out struct hci_inquiry_req followed by room for the
// responses the kernel writes back.
func encodeInquiry(dev int, p InquiryParams) []byte {
	n := int(p.numRsp())
	if n == 0 {
		n = maxInquiryResponses
	}
	buf := make([]byte, inquiryReqSize+n*inquiryInfoSize)
	binary.NativeEndian.PutUint16(buf[0:], uint16(dev))
	var flags uint16
	if p.FlushCache {
		flags |= flagCacheFlush
	}
	binary.NativeEndian.PutUint16(buf[2:], flags)
	copy(buf[4:7], giac[:])
	buf[7] = p.Length
	buf[8] = p.numRsp()
	return buf
}

// decodeInquiry extracts the responder addresses in the order the
// controller reported them.
func decodeInquiry(buf []byte) ([]btaddr.Address, error) {
	if len(buf) < inquiryReqSize {
		return nil, errors.Errorf("hci: short inquiry buffer (%d bytes)", len(buf))
	}
	n := int(buf[8])
	if inquiryReqSize+n*inquiryInfoSize > len(buf) {
		return nil, errors.Errorf("hci: inquiry reported %d responses, buffer holds %d",
			n, (len(buf)-inquiryReqSize)/inquiryInfoSize)
	}
	out := make([]btaddr.Address, 0, n)
	for i := 0; i < n; i++ {
		off := inquiryReqSize + i*inquiryInfoSize
		var b [6]byte
		copy(b[:], buf[off:off+6])
		out = append(out, btaddr.FromBdaddr(b))
	}
	return out, nil
}
