package smp

const (
	pairingRequest        = 0x01 // Pairing Request LE-U, ACL-U
	pairingResponse       = 0x02 // Pairing Response LE-U, ACL-U
	pairingConfirm        = 0x03 // Pairing Confirm LE-U
	pairingRandom         = 0x04 // Pairing Random LE-U
	pairingFailed         = 0x05 // Pairing Failed LE-U, ACL-U
	encryptionInformation = 0x06 // Encryption Information LE-U
	securityRequest       = 0x0B // Security Request LE-U
	pairingPublicKey      = 0x0C // Pairing Public Key LE-U
	pairingDHKeyCheck     = 0x0D // Pairing DHKey Check LE-U

	// L2CAP channel of the security manager
	cidSMP = 0x0006

	authReqBondMask = byte(0x03)
	authReqBond     = byte(0x01)
	authReqMITM     = byte(0x04)
	authReqSC       = byte(0x08)

	minKeySize = 7
	maxKeySize = 16
)

// IO capabilities, Vol 3, Part H, 2.3.2.
const (
	IoCapDisplayOnly     = 0x00
	IoCapDisplayYesNo    = 0x01
	IoCapKeyboardOnly    = 0x02
	IoCapNoInputNoOutput = 0x03
	IoCapKeyboardDisplay = 0x04
)

// Pairing Failed reason codes.
const (
	ReasonPasskeyEntryFailed   = 0x01
	ReasonOOBNotAvailable      = 0x02
	ReasonAuthRequirements     = 0x03
	ReasonConfirmValueFailed   = 0x04
	ReasonPairingNotSupported  = 0x05
	ReasonEncryptionKeySize    = 0x06
	ReasonCommandNotSupported  = 0x07
	ReasonUnspecified          = 0x08
	ReasonRepeatedAttempts     = 0x09
	ReasonInvalidParameters    = 0x0A
	ReasonDHKeyCheckFailed     = 0x0B
	ReasonNumericComparison    = 0x0C
	ReasonBREDRPairingProgress = 0x0D
	ReasonCrossTransport       = 0x0E
)

var pairingFailedReason = []string{
	"reserved",
	"passkey entry failed",
	"oob not available",
	"authentication requirements",
	"confirm value failed",
	"pairing not supported",
	"encryption key size",
	"command not supported",
	"unspecified reason",
	"repeated attempts",
	"invalid parameters",
	"dhkey check failed",
	"numeric comparison failed",
	"BR/EDR pairing in progress",
	"cross-transport key derivation/generation not allowed",
}

// Config holds the pairing feature exchange parameters of one side.
type Config struct {
	IoCap       byte
	OobFlag     byte
	AuthReq     byte
	MaxKeySize  byte
	InitKeyDist byte
	RespKeyDist byte
}

// DefaultConfig asks for an LE Secure Connections bond without MITM
// protection (Just Works) and no key distribution.
func DefaultConfig() Config {
	return Config{
		IoCap:      IoCapNoInputNoOutput,
		AuthReq:    authReqBond | authReqSC,
		MaxKeySize: maxKeySize,
	}
}

func (c Config) pdu(op byte) []byte {
	return []byte{op, c.IoCap, c.OobFlag, c.AuthReq, c.MaxKeySize, c.InitKeyDist, c.RespKeyDist}
}

func parseConfig(in []byte) Config {
	return Config{
		IoCap:       in[0],
		OobFlag:     in[1],
		AuthReq:     in[2],
		MaxKeySize:  in[3],
		InitKeyDist: in[4],
		RespKeyDist: in[5],
	}
}

// ioCap is the IOcap parameter of f6, least significant octet first.
func (c Config) ioCap() []byte {
	return []byte{c.IoCap, c.OobFlag, c.AuthReq}
}

// check reports the reason to refuse pairing with a peer using c.
func (c Config) check() byte {
	switch {
	case c.AuthReq&authReqSC == 0:
		return ReasonAuthRequirements
	case c.MaxKeySize < minKeySize || c.MaxKeySize > maxKeySize:
		return ReasonEncryptionKeySize
	case c.OobFlag > 0x01:
		return ReasonInvalidParameters
	}
	return 0
}
