package security

// Listener receives terminal bonding events. Each call is made on the
// Handler the listener was registered with.
type Listener interface {
	// OnDeviceBonded is called when dev is bonded, either by a completed
	// pairing or because a bond already existed when CreateBond was called.
	OnDeviceBonded(dev Device)

	// OnDeviceUnbonded is called when the bond with dev was removed.
	OnDeviceUnbonded(dev Device)

	// OnDeviceBondFailed is called when a bonding attempt with dev failed.
	// reason wraps one of ErrPairingTimeout, ErrPairingRejected,
	// ErrLinkLost or ErrPersistenceWrite.
	OnDeviceBondFailed(dev Device, reason error)
}

// Handler is a sequential execution context. Post must not block and must
// run tasks one at a time in the order they were posted.
type Handler interface {
	Post(task func())
}

// PairingHandle identifies a handshake started by a PairingService.
type PairingHandle interface{}

// PairingResult is the outcome of a handshake. Err is nil on success, in
// which case Bond holds the new key material.
type PairingResult struct {
	Bond BondInfo
	Err  error
}

// PairingService runs the pairing protocol with remote devices.
type PairingService interface {
	// StartPairing begins pairing with dev and returns immediately. done
	// must be called exactly once, from any goroutine, unless StartPairing
	// returns an error.
	StartPairing(dev Device, done func(PairingResult)) (PairingHandle, error)

	// AbortPairing asks the handshake to stop. The handshake acknowledges
	// by calling its done function, typically with ErrPairingAborted.
	AbortPairing(h PairingHandle)
}
