package security

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/security/sliceops"
)

// AddrType is the kind of a Bluetooth device address.
type AddrType uint8

const (
	AddrTypePublic AddrType = iota
	AddrTypeRandom
	AddrTypePublicIdentity
	AddrTypeRandomIdentity
)

func (t AddrType) String() string {
	switch t {
	case AddrTypePublic:
		return "public"
	case AddrTypeRandom:
		return "random"
	case AddrTypePublicIdentity:
		return "public-id"
	case AddrTypeRandomIdentity:
		return "random-id"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseAddrType parses the names returned by AddrType.String.
func ParseAddrType(s string) (AddrType, error) {
	switch strings.ToLower(s) {
	case "", "public":
		return AddrTypePublic, nil
	case "random":
		return AddrTypeRandom, nil
	case "public-id":
		return AddrTypePublicIdentity, nil
	case "random-id":
		return AddrTypeRandomIdentity, nil
	}
	return 0, errors.Errorf("unknown address type %q", s)
}

// Random reports whether t is one of the random address types.
func (t AddrType) Random() bool {
	return t == AddrTypeRandom || t == AddrTypeRandomIdentity
}

// Device identifies a remote peer. It is a comparable value and is the
// key for every per-device table.
//
// Address holds the address most significant byte first, the way it is
// written (aa:bb:cc:dd:ee:ff has Address[0] == 0xaa).
type Device struct {
	Address [6]byte
	Type    AddrType
}

// ParseDevice creates a Device from "aa:bb:cc:dd:ee:ff" or 12 hex digits.
func ParseDevice(s string, t AddrType) (Device, error) {
	hexStr := strings.Replace(strings.ToLower(s), ":", "", -1)
	if len(hexStr) != 12 {
		return Device{}, errors.Wrapf(ErrInvalidDevice, "address %q", s)
	}

	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Device{}, errors.Wrapf(ErrInvalidDevice, "address %q: %s", s, err)
	}

	d := Device{Type: t}
	copy(d.Address[:], b)
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	return d, nil
}

// MustParseDevice is ParseDevice for constants; it panics on error.
func MustParseDevice(s string, t AddrType) Device {
	d, err := ParseDevice(s, t)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Device) String() string {
	a := d.Address
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x/%s", a[0], a[1], a[2], a[3], a[4], a[5], d.Type)
}

// Hex returns the address as 12 lowercase hex digits, the key format of
// bond files.
func (d Device) Hex() string {
	return hex.EncodeToString(d.Address[:])
}

// Bytes returns the address in over-the-air (little-endian) order.
func (d Device) Bytes() []byte {
	return sliceops.SwapBuf(d.Address[:])
}

// Validate reports whether d is a well formed device identity.
func (d Device) Validate() error {
	if d.Type > AddrTypeRandomIdentity {
		return errors.Wrapf(ErrInvalidDevice, "address type %d", d.Type)
	}

	var zero, ones = true, true
	for _, b := range d.Address {
		zero = zero && b == 0x00
		ones = ones && b == 0xff
	}
	if zero || ones {
		return errors.Wrapf(ErrInvalidDevice, "address %s", d.Hex())
	}

	if !d.Type.Random() {
		return nil
	}

	// Vol 6, Part B, 1.3.2: the two most significant bits select the
	// sub-type, and the random part must not be all zeros or all ones.
	sub := d.Address[0] >> 6
	rnd := append([]byte{d.Address[0] & 0x3f}, d.Address[1:]...)
	if sub == 0x02 {
		return errors.Wrapf(ErrInvalidDevice, "reserved random address sub-type %s", d.Hex())
	}
	if sub == 0x01 {
		// resolvable: only prand (upper 3 bytes) is random
		rnd = rnd[:3]
	}

	var rz, ro = true, true
	for i, b := range rnd {
		mask := byte(0xff)
		if i == 0 {
			mask = 0x3f
		}
		rz = rz && b&mask == 0
		ro = ro && b&mask == mask
	}
	if rz || ro {
		return errors.Wrapf(ErrInvalidDevice, "random part of %s", d.Hex())
	}
	return nil
}
