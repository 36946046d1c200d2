// Package security keeps track of the devices the local device is bonded
// with. A Manager drives pairing through a PairingService, stores the
// resulting keys through a Persistence and tells registered Listeners when
// a device was bonded, unbonded or failed to bond.
//
// Every state change happens on a single dispatcher goroutine; the public
// methods only validate their input and queue work, so they can be called
// from anywhere and never wait for a handshake.
package security

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/security/clock"
	"github.com/rigado/security/handler"
)

type managerState int

const (
	stateCreated managerState = iota
	stateRunning
	stateClosed
)

// Manager manages bonds with remote devices.
type Manager struct {
	log            Logger
	clock          clock.Clock
	pairing        PairingService
	persistence    Persistence
	encrypter      Encrypter
	pairingTimeout time.Duration
	abortTimeout   time.Duration

	dispatcher Handler
	own        *handler.Handler

	// guards state; held for reading while work is handed to the
	// dispatcher so Close cannot pull it away mid-post
	mu    sync.RWMutex
	state managerState

	listeners *listenerDispatch
	store     *recordStore
	sm        *bondingStateMachine
}

// New returns a Manager configured by opts. Call Init before use.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		clock:          clock.Real(),
		pairingTimeout: DefaultPairingTimeout,
		abortTimeout:   DefaultAbortTimeout,
		listeners:      newListenerDispatch(),
	}
	if err := m.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	return m, nil
}

// Option applies opts. Options take effect only before Init.
func (m *Manager) Option(opts ...Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateCreated {
		return ErrAlreadyInitialized
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return err
		}
	}
	return nil
}

// Init loads the stored bonds and starts the dispatcher. A Manager whose
// records cannot be loaded must not be used; Init then returns an error
// wrapping ErrPersistenceLoad.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return ErrAlreadyInitialized
	case stateClosed:
		return ErrClosed
	}

	if m.pairing == nil {
		return errors.New("no pairing service configured")
	}
	if m.log == nil {
		m.log = GetLogger()
	}
	if m.persistence == nil {
		m.log.Warn("no persistence configured, bonds are lost on exit")
		m.persistence = volatile{}
	}

	store := newRecordStore(m.persistence, m.log)
	if err := store.load(); err != nil {
		m.log.Errorf("init: %v", err)
		return err
	}

	if m.dispatcher == nil {
		m.own = handler.New("security")
		m.dispatcher = m.own
		m.log.Debugf("dispatching on handler %q", m.own.Name())
	}

	m.store = store
	m.sm = &bondingStateMachine{
		store:          store,
		dispatch:       m.listeners,
		pairing:        m.pairing,
		clock:          m.clock,
		log:            m.log,
		post:           m.dispatcher.Post,
		pairingTimeout: m.pairingTimeout,
		abortTimeout:   m.abortTimeout,
		attempts:       make(map[Device]*bondAttempt),
	}
	m.state = stateRunning
	return nil
}

// Close aborts pairings in progress and stops the dispatcher. Listeners
// are not told about the aborted attempts. Must not be called from a task
// running on the dispatcher.
func (m *Manager) Close() error {
	m.mu.Lock()
	running := m.state == stateRunning
	m.state = stateClosed
	m.mu.Unlock()

	if !running {
		return nil
	}

	done := make(chan struct{})
	m.dispatcher.Post(func() {
		m.sm.shutdown()
		close(done)
	})
	<-done

	if m.own != nil {
		m.own.Close()
	}
	return nil
}

// submit queues task on the dispatcher if the Manager is running.
func (m *Manager) submit(task func()) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.state {
	case stateCreated:
		return ErrNotInitialized
	case stateClosed:
		return ErrClosed
	}
	m.dispatcher.Post(task)
	return nil
}

// CreateBond bonds with dev unless it already is. Listeners get
// OnDeviceBonded or OnDeviceBondFailed. Concurrent requests for the same
// device share one handshake.
func (m *Manager) CreateBond(dev Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	return m.submit(func() { m.sm.createBond(dev) })
}

// CancelBond aborts the pairing with dev, if one is in progress. A
// cancelled attempt produces no callback.
func (m *Manager) CancelBond(dev Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	return m.submit(func() { m.sm.cancelBond(dev) })
}

// RemoveBond deletes the bond with dev and its keys. Listeners get
// OnDeviceUnbonded if dev was bonded. A pairing in progress is aborted
// instead.
func (m *Manager) RemoveBond(dev Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	return m.submit(func() { m.sm.removeBond(dev) })
}

// LinkDisconnected reports that the link to dev went down. A pairing in
// progress fails with ErrLinkLost.
func (m *Manager) LinkDisconnected(dev Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	return m.submit(func() { m.sm.linkLost(dev) })
}

// EnableEncryption hands the stored keys of dev to the configured
// Encrypter. done runs on the dispatcher with the result and must not
// block.
func (m *Manager) EnableEncryption(dev Device, done func(error)) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	if m.encrypter == nil {
		return ErrNoEncrypter
	}
	enc := m.encrypter
	return m.submit(func() {
		err := m.sm.encrypt(dev, enc)
		if done != nil {
			done(err)
		}
	})
}

// RegisterCallbackListener registers l to be called on h. Registering l
// again replaces its handler. The Manager keeps l until it is
// unregistered.
func (m *Manager) RegisterCallbackListener(l Listener, h Handler) error {
	if err := validListener(l); err != nil {
		return err
	}
	if h == nil {
		return ErrInvalidHandler
	}
	m.listeners.register(l, h)
	return nil
}

// UnregisterCallbackListener removes l. Events committed after it returns
// are not delivered to l; events already handed to l's handler still are.
func (m *Manager) UnregisterCallbackListener(l Listener) {
	if l == nil {
		return
	}
	m.listeners.unregister(l)
}

// BondState returns the state of dev. It waits for the dispatcher, so it
// must not be called from a task running on the dispatcher, including a
// listener registered on the same Handler passed to OptDispatcher.
func (m *Manager) BondState(dev Device) BondState {
	s := NotBonded
	_ = m.query(func() { s = m.sm.state(dev) })
	return s
}

// BondedDevices returns the bonded devices ordered by address. Like
// BondState, it must not be called from the dispatcher or from a listener
// running on it.
func (m *Manager) BondedDevices() []Device {
	var out []Device
	_ = m.query(func() { out = m.store.devices() })
	return out
}

func (m *Manager) query(f func()) error {
	done := make(chan struct{})

	m.mu.RLock()
	if m.state != stateRunning {
		m.mu.RUnlock()
		return ErrNotInitialized
	}
	// posted ahead of any shutdown, so it runs before Close returns
	m.dispatcher.Post(func() {
		f()
		close(done)
	})
	m.mu.RUnlock()

	<-done
	return nil
}
