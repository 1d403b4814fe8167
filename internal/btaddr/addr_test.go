package btaddr

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/bterr"
)

func TestParseFormatRoundTrip(t *testing.T) {
	inputs := []string{
		"AA:BB:CC:DD:EE:FF",
		"aa:bb:cc:dd:ee:ff",
		"00:11:22:33:44:55",
		"0a:1B:2c:3D:4e:5F",
		"00:00:00:00:00:00",
		"FF:FF:FF:FF:FF:FF",
	}
	for _, s := range inputs {
		t.Run(s, func(t *testing.T) {
			a, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, strings.ToUpper(s), a.String())
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"AA:BB:CC:DD:EE",
		"AA:BB:CC:DD:EE:FF:00",
		"AA-BB-CC-DD-EE-FF",
		"AA:BB:CC:DD:EE:FG",
		"AABBCCDDEEFF",
		"AA:BB:CC:DD:EEFF:",
		" AA:BB:CC:DD:EE:F",
		"AA:BB:CC:DD:EE:FF ",
		"A:BB:CC:DD:EE:FF0",
	}
	for _, s := range inputs {
		t.Run(s, func(t *testing.T) {
			a, err := Parse(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, bterr.InvalidAddress))
			assert.Equal(t, Address{}, a)
		})
	}
}

func TestBdaddrIsReversed(t *testing.T) {
	a := MustParse("01:02:03:04:05:06")
	assert.Equal(t, [6]byte{6, 5, 4, 3, 2, 1}, a.Bdaddr())
	assert.Equal(t, a, FromBdaddr(a.Bdaddr()))
}

func TestAny(t *testing.T) {
	assert.True(t, Any.IsAny())
	assert.Equal(t, "00:00:00:00:00:00", Any.String())
	assert.False(t, MustParse("00:00:00:00:00:01").IsAny())
}

func TestTextMarshalling(t *testing.T) {
	var a Address
	require.NoError(t, a.UnmarshalText([]byte("de:ad:be:ef:00:01")))
	text, err := a.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "DE:AD:BE:EF:00:01", string(text))

	err = a.UnmarshalText([]byte("nope"))
	assert.True(t, errors.Is(err, bterr.InvalidAddress))
	assert.Equal(t, "DE:AD:BE:EF:00:01", a.String(), "failed unmarshal must not modify the value")
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("xx") })
}
