package smp

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/security"
	"github.com/rigado/security/sliceops"
)

var pduLength = map[byte]int{
	pairingRequest:    6,
	pairingResponse:   6,
	pairingConfirm:    16,
	pairingRandom:     16,
	pairingFailed:     1,
	pairingPublicKey:  64,
	pairingDHKeyCheck: 16,
}

// session is one LE Secure Connections Just Works handshake, from either
// side. Vol 3, Part H, 2.3.5.6.
type session struct {
	rw        io.ReadWriter
	initiator bool
	log       security.Logger

	local, remote       security.Device
	localCfg, remoteCfg Config

	keys         *ecdhKeys
	remotePubKey crypto.PublicKey

	localRandom, remoteRandom []byte
	remoteConfirm             []byte

	macKey, ltk []byte
}

func (s *session) send(op byte, data ...[]byte) error {
	pdu := sliceops.Concat(append([][]byte{{op}}, data...)...)
	return errors.Wrapf(writePDU(s.rw, pdu), "send 0x%02x", op)
}

// fail tells the peer the handshake is over and returns the matching
// error.
func (s *session) fail(reason byte, format string, args ...interface{}) error {
	if err := s.send(pairingFailed, []byte{reason}); err != nil {
		s.log.Debugf("pairing failed not sent: %v", err)
	}
	return errors.WithMessagef(&PairingFailedError{Reason: reason}, format, args...)
}

// expect reads the next PDU, which must be op.
func (s *session) expect(op byte) ([]byte, error) {
	in, err := readPDU(s.rw)
	if err != nil {
		return nil, err
	}

	code, data := in[0], in[1:]
	if code == pairingFailed {
		reason := byte(ReasonUnspecified)
		if len(data) > 0 {
			reason = data[0]
		}
		return nil, errors.WithStack(&PairingFailedError{Reason: reason, Remote: true})
	}
	if code == securityRequest && op != pairingRequest {
		// only meaningful before pairing started
		return s.expect(op)
	}
	if code != op {
		return nil, s.fail(ReasonUnspecified, "unexpected pdu 0x%02x, want 0x%02x", code, op)
	}
	if len(data) != pduLength[op] {
		return nil, s.fail(ReasonInvalidParameters, "pdu 0x%02x: invalid length %d", op, len(data))
	}
	return data, nil
}

// addr is the 56 bit address parameter of f5 and f6.
func addr(d security.Device) []byte {
	t := byte(0x00)
	if d.Type.Random() {
		t = 0x01
	}
	return sliceops.Concat(d.Bytes(), []byte{t})
}

func (s *session) run() (security.BondInfo, error) {
	var err error
	if s.keys == nil {
		if s.keys, err = generateKeys(); err != nil {
			return nil, err
		}
	}
	s.localRandom = make([]byte, 16)
	if _, err := rand.Read(s.localRandom); err != nil {
		return nil, errors.Wrap(err, "random")
	}

	if s.initiator {
		err = s.initiate()
	} else {
		err = s.respond()
	}
	if err != nil {
		return nil, err
	}
	return security.NewBondInfo(s.ltk, 0, 0, false), nil
}

func (s *session) initiate() error {
	// Phase 1, feature exchange
	if err := s.send(pairingRequest, s.localCfg.pdu(pairingRequest)[1:]); err != nil {
		return err
	}
	in, err := s.expect(pairingResponse)
	if err != nil {
		return err
	}
	s.remoteCfg = parseConfig(in)
	if r := s.remoteCfg.check(); r != 0 {
		return s.fail(r, "unsupported pairing response %s", hex.EncodeToString(in))
	}

	// Phase 2, public keys
	if err := s.send(pairingPublicKey, marshalPublicKeyXY(s.keys.public)); err != nil {
		return err
	}
	if err := s.receivePublicKey(); err != nil {
		return err
	}

	// Just Works: the responder commits first
	if s.remoteConfirm, err = s.expect(pairingConfirm); err != nil {
		return err
	}
	if err := s.send(pairingRandom, s.localRandom); err != nil {
		return err
	}
	if s.remoteRandom, err = s.expect(pairingRandom); err != nil {
		return err
	}

	// Cb = f4(PKbx, PKax, Nb, 0)
	calc, err := smpF4(marshalPublicKeyX(s.remotePubKey), marshalPublicKeyX(s.keys.public), s.remoteRandom, 0)
	if err != nil {
		return err
	}
	if !bytes.Equal(calc, s.remoteConfirm) {
		return s.fail(ReasonConfirmValueFailed, "confirm mismatch, exp %v got %v",
			hex.EncodeToString(s.remoteConfirm), hex.EncodeToString(calc))
	}

	if err := s.calcMacLtk(); err != nil {
		return s.fail(ReasonUnspecified, "%v", err)
	}

	// Ea = f6(MacKey, Na, Nb, rb, IOcapA, A, B)
	ea, err := smpF6(s.macKey, s.localRandom, s.remoteRandom, make([]byte, 16),
		s.localCfg.ioCap(), addr(s.local), addr(s.remote))
	if err != nil {
		return err
	}
	if err := s.send(pairingDHKeyCheck, ea); err != nil {
		return err
	}

	eb, err := s.expect(pairingDHKeyCheck)
	if err != nil {
		return err
	}
	// Eb = f6(MacKey, Nb, Na, ra, IOcapB, B, A)
	exp, err := smpF6(s.macKey, s.remoteRandom, s.localRandom, make([]byte, 16),
		s.remoteCfg.ioCap(), addr(s.remote), addr(s.local))
	if err != nil {
		return err
	}
	if !bytes.Equal(exp, eb) {
		return s.fail(ReasonDHKeyCheckFailed, "dhkey check mismatch")
	}
	return nil
}

func (s *session) respond() error {
	in, err := s.expect(pairingRequest)
	if err != nil {
		return err
	}
	s.remoteCfg = parseConfig(in)
	if r := s.remoteCfg.check(); r != 0 {
		return s.fail(r, "unsupported pairing request %s", hex.EncodeToString(in))
	}
	if err := s.send(pairingResponse, s.localCfg.pdu(pairingResponse)[1:]); err != nil {
		return err
	}

	if err := s.receivePublicKey(); err != nil {
		return err
	}
	if err := s.send(pairingPublicKey, marshalPublicKeyXY(s.keys.public)); err != nil {
		return err
	}

	// Cb = f4(PKbx, PKax, Nb, 0)
	cb, err := smpF4(marshalPublicKeyX(s.keys.public), marshalPublicKeyX(s.remotePubKey), s.localRandom, 0)
	if err != nil {
		return err
	}
	if err := s.send(pairingConfirm, cb); err != nil {
		return err
	}
	if s.remoteRandom, err = s.expect(pairingRandom); err != nil {
		return err
	}
	if err := s.send(pairingRandom, s.localRandom); err != nil {
		return err
	}

	if err := s.calcMacLtk(); err != nil {
		return s.fail(ReasonUnspecified, "%v", err)
	}

	ea, err := s.expect(pairingDHKeyCheck)
	if err != nil {
		return err
	}
	exp, err := smpF6(s.macKey, s.remoteRandom, s.localRandom, make([]byte, 16),
		s.remoteCfg.ioCap(), addr(s.remote), addr(s.local))
	if err != nil {
		return err
	}
	if !bytes.Equal(exp, ea) {
		return s.fail(ReasonDHKeyCheckFailed, "dhkey check mismatch")
	}

	eb, err := smpF6(s.macKey, s.localRandom, s.remoteRandom, make([]byte, 16),
		s.localCfg.ioCap(), addr(s.local), addr(s.remote))
	if err != nil {
		return err
	}
	return s.send(pairingDHKeyCheck, eb)
}

func (s *session) receivePublicKey() error {
	in, err := s.expect(pairingPublicKey)
	if err != nil {
		return err
	}

	// CVE-2020-26558
	if bytes.Equal(in, marshalPublicKeyXY(s.keys.public)) {
		return s.fail(ReasonInvalidParameters, "remote public key cannot match local public key")
	}

	pk, ok := unmarshalPublicKey(in)
	if !ok {
		return s.fail(ReasonInvalidParameters, "remote public key not on curve")
	}
	s.remotePubKey = pk
	return nil
}

// calcMacLtk computes MacKey || LTK = f5(DHKey, Na, Nb, A, B), A being the
// initiator.
func (s *session) calcMacLtk() error {
	dhKey, err := generateSecret(s.keys.private, s.remotePubKey)
	if err != nil {
		return err
	}

	na, nb := s.localRandom, s.remoteRandom
	a, b := addr(s.local), addr(s.remote)
	if !s.initiator {
		na, nb = nb, na
		a, b = b, a
	}

	s.macKey, s.ltk, err = smpF5(dhKey, na, nb, a, b)
	return err
}
