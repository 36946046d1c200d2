package security

import (
	"time"
)

// BondInfo is the key material exchanged during pairing.
type BondInfo interface {
	LongTermKey() []byte
	EDiv() uint16
	Random() uint64
	Legacy() bool
}

type bondInfo struct {
	longTermKey []byte
	ediv        uint16
	randVal     uint64
	legacy      bool
}

// NewBondInfo returns a BondInfo holding its own copy of longTermKey.
func NewBondInfo(longTermKey []byte, ediv uint16, random uint64, legacy bool) BondInfo {
	ltk := make([]byte, len(longTermKey))
	copy(ltk, longTermKey)
	return &bondInfo{
		longTermKey: ltk,
		ediv:        ediv,
		randVal:     random,
		legacy:      legacy,
	}
}

func (b *bondInfo) LongTermKey() []byte {
	return b.longTermKey
}

func (b *bondInfo) EDiv() uint16 {
	return b.ediv
}

func (b *bondInfo) Random() uint64 {
	return b.randVal
}

func (b *bondInfo) Legacy() bool {
	return b.legacy
}

// BondState is the bonding state of a device as seen by the Manager.
type BondState int

const (
	NotBonded BondState = iota
	Bonding
	Bonded
)

func (s BondState) String() string {
	switch s {
	case NotBonded:
		return "not bonded"
	case Bonding:
		return "bonding"
	case Bonded:
		return "bonded"
	default:
		return "unknown"
	}
}

// Record is the durable security state of a bonded device.
type Record struct {
	Device  Device
	State   BondState
	Bond    BondInfo
	Updated time.Time
}

// Persistence is the storage medium behind the security record store.
// Only Bonded records are ever handed to Save.
type Persistence interface {
	LoadAll() ([]Record, error)
	Save(Record) error
	Delete(Device) error
}

// Encrypter enables link encryption with previously bonded key material.
// The BondInfo must not be retained after Encrypt returns.
type Encrypter interface {
	Encrypt(dev Device, bond BondInfo) error
}
