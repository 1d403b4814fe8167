// Package btaddr converts between the textual Bluetooth device address
// ("XX:XX:XX:XX:XX:XX") and the byte forms used by the kernel.
package btaddr

import (
	"fmt"

	"bluebridge/internal/bterr"
)

// Channel is the RFCOMM channel used for every connect and bind.
const Channel uint8 = 1

const textLen = 17

// Address is a Bluetooth device address in display order: the first octet
// of the text form is Address[0].
type Address [6]byte

// Any is the wildcard address used to bind a listener to all adapters.
var Any Address

// Parse accepts exactly the canonical 17 character colon separated form.
// Hex digits may be upper or lower case.
func Parse(s string) (Address, error) {
	var a Address
	if len(s) != textLen {
		return Address{}, invalid(s)
	}
	for i := 0; i < 6; i++ {
		off := i * 3
		if i > 0 && s[off-1] != ':' {
			return Address{}, invalid(s)
		}
		hi, ok1 := unhex(s[off])
		lo, ok2 := unhex(s[off+1])
		if !ok1 || !ok2 {
			return Address{}, invalid(s)
		}
		a[i] = hi<<4 | lo
	}
	return a, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromBdaddr converts a kernel bdaddr_t (least significant octet first).
func FromBdaddr(b [6]byte) Address {
	var a Address
	for i := range b {
		a[i] = b[5-i]
	}
	return a
}

// Bdaddr returns the kernel bdaddr_t layout of a.
func (a Address) Bdaddr() [6]byte {
	var b [6]byte
	for i := range a {
		b[i] = a[5-i]
	}
	return b
}

// IsAny reports whether a is the wildcard address.
func (a Address) IsAny() bool { return a == Any }

// String formats a as upper case colon separated hex, like ba2str.
func (a Address) String() string {
	const digits = "0123456789ABCDEF"
	buf := make([]byte, 0, textLen)
	for i, b := range a {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, digits[b>>4], digits[b&0x0f])
	}
	return string(buf)
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	p, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = p
	return nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func invalid(s string) error {
	return bterr.E(bterr.InvalidAddress, "parse", fmt.Errorf("malformed address %q", s))
}
