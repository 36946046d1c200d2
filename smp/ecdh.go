package smp

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/rigado/security/sliceops"
	"github.com/wsddn/go-ecdh"
)

type ecdhKeys struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

func p256() ecdh.ECDH {
	return ecdh.NewEllipticECDH(elliptic.P256())
}

func generateKeys() (*ecdhKeys, error) {
	var err error
	kp := ecdhKeys{}

	kp.private, kp.public, err = p256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate P-256 key")
	}

	return &kp, nil
}

// unmarshalPublicKey parses the 64 byte X || Y form of the Public Key PDU.
func unmarshalPublicKey(b []byte) (crypto.PublicKey, bool) {
	if len(b) != 64 {
		return nil, false
	}
	r := sliceops.Concat([]byte{0x04}, sliceops.SwapBuf(b[:32]), sliceops.SwapBuf(b[32:]))
	return p256().Unmarshal(r)
}

func marshalPublicKeyXY(k crypto.PublicKey) []byte {
	ba := p256().Marshal(k)
	ba = ba[1:] // uncompressed point header
	return sliceops.Concat(sliceops.SwapBuf(ba[:32]), sliceops.SwapBuf(ba[32:]))
}

func marshalPublicKeyX(k crypto.PublicKey) []byte {
	return marshalPublicKeyXY(k)[:32]
}

func generateSecret(prv crypto.PrivateKey, pub crypto.PublicKey) ([]byte, error) {
	b, err := p256().GenerateSharedSecret(prv, pub)
	if err != nil {
		return nil, errors.Wrap(err, "dhkey")
	}
	// the x coordinate loses its leading zero octets
	if len(b) < 32 {
		b = sliceops.Concat(make([]byte, 32-len(b)), b)
	}
	return sliceops.SwapBuf(b), nil
}
