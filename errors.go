package security

import "github.com/pkg/errors"

// Input errors, returned synchronously by the Manager.
var (
	ErrInvalidDevice   = errors.New("invalid device")
	ErrInvalidListener = errors.New("invalid listener")
	ErrInvalidHandler  = errors.New("invalid handler")

	ErrNotInitialized     = errors.New("security manager not initialized")
	ErrAlreadyInitialized = errors.New("security manager already initialized")
	ErrClosed             = errors.New("security manager closed")
)

// Bonding failure reasons. Listeners receive them, possibly wrapped, in
// OnDeviceBondFailed; use errors.Cause to compare.
var (
	ErrPairingTimeout  = errors.New("pairing timed out")
	ErrPairingRejected = errors.New("pairing rejected by peer")
	ErrLinkLost        = errors.New("link lost during pairing")
	ErrPairingAborted  = errors.New("pairing aborted")

	ErrPersistenceLoad  = errors.New("failed to load security records")
	ErrPersistenceWrite = errors.New("failed to persist security record")
)

var (
	ErrAbortTimeout = errors.New("pairing abort not acknowledged")
	ErrNotBonded    = errors.New("device not bonded")
	ErrNoEncrypter  = errors.New("no encrypter configured")
)
