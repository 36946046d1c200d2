package security

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/security/clock"
)

// Defaults for the bonding timeouts.
const (
	DefaultPairingTimeout = 30 * time.Second
	DefaultAbortTimeout   = 2 * time.Second
)

// An Option is a configuration function, which configures the Manager.
type Option func(*Manager) error

// OptPairingService sets the handshake collaborator. Required.
func OptPairingService(p PairingService) Option {
	return func(m *Manager) error {
		if p == nil {
			return errors.New("nil pairing service")
		}
		m.pairing = p
		return nil
	}
}

// OptPersistence sets where bonds are stored. Without it bonds only live
// as long as the Manager.
func OptPersistence(p Persistence) Option {
	return func(m *Manager) error {
		if p == nil {
			return errors.New("nil persistence")
		}
		m.persistence = p
		return nil
	}
}

// OptEncrypter enables EnableEncryption.
func OptEncrypter(e Encrypter) Option {
	return func(m *Manager) error {
		m.encrypter = e
		return nil
	}
}

func OptLogger(l Logger) Option {
	return func(m *Manager) error {
		if l == nil {
			return errors.New("nil logger")
		}
		m.log = l
		return nil
	}
}

func OptClock(c clock.Clock) Option {
	return func(m *Manager) error {
		if c == nil {
			return errors.New("nil clock")
		}
		m.clock = c
		return nil
	}
}

// OptPairingTimeout bounds every handshake.
func OptPairingTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return errors.Errorf("invalid pairing timeout %v", d)
		}
		m.pairingTimeout = d
		return nil
	}
}

// OptAbortTimeout bounds how long a cancelled handshake may take to stop.
func OptAbortTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return errors.Errorf("invalid abort timeout %v", d)
		}
		m.abortTimeout = d
		return nil
	}
}

// OptDispatcher runs the Manager's state on h instead of a handler of its
// own. h must be sequential; the Manager does not close it.
func OptDispatcher(h Handler) Option {
	return func(m *Manager) error {
		if h == nil {
			return errors.Wrap(ErrInvalidHandler, "nil dispatcher")
		}
		m.dispatcher = h
		return nil
	}
}
