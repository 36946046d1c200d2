package smp

import (
	"crypto/aes"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
	"github.com/rigado/security/sliceops"
)

// All inputs and outputs are least significant octet first, the order
// they travel in.

func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, err
	}

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}

	mMac.Write(sliceops.SwapBuf(msg))

	return sliceops.SwapBuf(mMac.Sum(nil)), nil
}

// smpF4 is the confirm value generation function.
func smpF4(u, v, x []byte, z uint8) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, errors.New("f4: length error")
	}

	// f4(U, V, X, Z) = AES-CMAC_X (U || V || Z)
	return aesCMAC(x, sliceops.Concat([]byte{z}, v, u))
}

var (
	f5Salt = []byte{0xbe, 0x83, 0x60, 0x5a, 0xdb, 0x0b, 0x37, 0x60,
		0x38, 0xa5, 0xf5, 0xaa, 0x91, 0x83, 0x88, 0x6c}
	f5KeyID  = []byte{0x65, 0x6c, 0x74, 0x62} // "btle"
	f5Length = []byte{0x00, 0x01}             // 256
)

// smpF5 is the key generation function. It returns MacKey and LTK.
func smpF5(w, n1, n2, a1, a2 []byte) ([]byte, []byte, error) {
	switch {
	case len(w) != 32:
		return nil, nil, errors.New("f5: length error w")
	case len(n1) != 16:
		return nil, nil, errors.New("f5: length error n1")
	case len(n2) != 16:
		return nil, nil, errors.New("f5: length error n2")
	case len(a1) != 7:
		return nil, nil, errors.New("f5: length error a1")
	case len(a2) != 7:
		return nil, nil, errors.New("f5: length error a2")
	}

	t, err := aesCMAC(f5Salt, w)
	if err != nil {
		return nil, nil, errors.Wrap(err, "f5 key")
	}

	// Counter || keyID || N1 || N2 || A1 || A2 || Length
	m := sliceops.Concat(f5Length, a2, a1, n2, n1, f5KeyID, []byte{0x00})
	macKey, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, errors.Wrap(err, "f5 mackey")
	}

	m[len(m)-1] = 0x01
	ltk, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, errors.Wrap(err, "f5 ltk")
	}

	return macKey, ltk, nil
}

// smpF6 is the check value generation function.
func smpF6(w, n1, n2, r, ioCap, a1, a2 []byte) ([]byte, error) {
	if len(w) != 16 || len(n1) != 16 || len(n2) != 16 || len(r) != 16 || len(ioCap) != 3 || len(a1) != 7 || len(a2) != 7 {
		return nil, errors.New("f6: length error")
	}

	// f6(W, N1, N2, R, IOcap, A1, A2) = AES-CMAC_W (N1 || N2 || R || IOcap || A1 || A2)
	return aesCMAC(w, sliceops.Concat(a2, a1, ioCap, r, n2, n1))
}
