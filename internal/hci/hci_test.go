package hci

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/btaddr"
)

func TestEncodeInquiry(t *testing.T) {
	buf := encodeInquiry(2, InquiryParams{Length: 3, MaxResponses: 8, FlushCache: true})

	require.Len(t, buf, inquiryReqSize+8*inquiryInfoSize)
	assert.Equal(t, uint16(2), binary.NativeEndian.Uint16(buf[0:]))
	assert.Equal(t, uint16(flagCacheFlush), binary.NativeEndian.Uint16(buf[2:]))
	assert.Equal(t, []byte{0x33, 0x8b, 0x9e}, buf[4:7])
	assert.Equal(t, byte(3), buf[7])
	assert.Equal(t, byte(8), buf[8])
}

func TestEncodeInquiryUnboundedResponses(t *testing.T) {
	for _, n := range []int{0, 256, -1} {
		buf := encodeInquiry(0, InquiryParams{Length: 1, MaxResponses: n})
		assert.Equal(t, byte(0), buf[8], "max=%d", n)
		assert.Len(t, buf, inquiryReqSize+maxInquiryResponses*inquiryInfoSize)
		assert.Equal(t, uint16(0), binary.NativeEndian.Uint16(buf[2:]))
	}
}

func TestDecodeInquiryPreservesOrderAndDuplicates(t *testing.T) {
	a := btaddr.MustParse("00:11:22:33:44:55")
	b := btaddr.MustParse("AA:BB:CC:DD:EE:FF")

	buf := encodeInquiry(0, InquiryParams{Length: 3, MaxResponses: 4})
	buf[8] = 3
	for i, addr := range []btaddr.Address{b, a, b} {
		bd := addr.Bdaddr()
		copy(buf[inquiryReqSize+i*inquiryInfoSize:], bd[:])
	}

	got, err := decodeInquiry(buf)
	require.NoError(t, err)
	assert.Equal(t, []btaddr.Address{b, a, b}, got)
}

func TestDecodeInquiryRejectsOverflow(t *testing.T) {
	buf := encodeInquiry(0, InquiryParams{Length: 3, MaxResponses: 1})
	buf[8] = 2
	_, err := decodeInquiry(buf)
	assert.Error(t, err)

	_, err = decodeInquiry(buf[:4])
	assert.Error(t, err)
}

func TestInquiryWindow(t *testing.T) {
	assert.Equal(t, 3840*time.Millisecond, InquiryParams{Length: 3}.Window())
}
