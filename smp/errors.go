package smp

import (
	"fmt"

	"github.com/rigado/security"
)

// PairingFailedError is a handshake ended by a Pairing Failed PDU, sent by
// either side. errors.Cause of it is security.ErrPairingRejected.
type PairingFailedError struct {
	Reason byte

	// Remote is set when the peer sent the PDU.
	Remote bool
}

func (e *PairingFailedError) Error() string {
	reason := "unknown"
	if int(e.Reason) < len(pairingFailedReason) {
		reason = pairingFailedReason[e.Reason]
	}
	side := "local"
	if e.Remote {
		side = "remote"
	}
	return fmt.Sprintf("pairing failed (%s): %s (0x%02x)", side, reason, e.Reason)
}

func (e *PairingFailedError) Cause() error {
	return security.ErrPairingRejected
}
