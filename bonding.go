package security

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/security/clock"
)

// bondAttempt is the in-flight pairing with one device.
type bondAttempt struct {
	id       uuid.UUID
	dev      Device
	started  time.Time
	handle   PairingHandle
	requests int
	timer    clock.Timer
	log      Logger

	// set once an abort was requested; the attempt then only waits for
	// the handshake to acknowledge or for abortTimer
	aborting   bool
	abortTimer clock.Timer

	// a CreateBond arrived while aborting
	recreate bool
}

func (a *bondAttempt) stopTimers() {
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.abortTimer != nil {
		a.abortTimer.Stop()
	}
}

// bondingStateMachine applies bonding transitions for every device. All
// methods run on the dispatcher. A device with an attempt is Bonding, a
// device with a record is Bonded, anything else is NotBonded.
type bondingStateMachine struct {
	store    *recordStore
	dispatch *listenerDispatch
	pairing  PairingService
	clock    clock.Clock
	log      Logger

	// post queues a task on the dispatcher
	post func(func())

	pairingTimeout time.Duration
	abortTimeout   time.Duration

	attempts map[Device]*bondAttempt
}

func (sm *bondingStateMachine) state(dev Device) BondState {
	if _, ok := sm.attempts[dev]; ok {
		return Bonding
	}
	if _, ok := sm.store.get(dev); ok {
		return Bonded
	}
	return NotBonded
}

func (sm *bondingStateMachine) createBond(dev Device) {
	if a, ok := sm.attempts[dev]; ok {
		if a.aborting {
			a.log.Debug("bond requested while aborting, restarting after abort")
			a.recreate = true
			return
		}
		a.requests++
		a.log.Debugf("bond already in progress, %d requests", a.requests)
		return
	}

	if _, ok := sm.store.get(dev); ok {
		sm.log.Debugf("%s already bonded", dev)
		sm.dispatch.notify(event{kind: eventBonded, dev: dev})
		return
	}

	sm.start(dev)
}

func (sm *bondingStateMachine) start(dev Device) {
	a := &bondAttempt{
		id:       uuid.New(),
		dev:      dev,
		started:  sm.clock.Now(),
		requests: 1,
	}
	a.log = sm.log.ChildLogger(map[string]interface{}{
		"device":  dev.String(),
		"attempt": a.id.String(),
	})
	sm.attempts[dev] = a

	id := a.id
	h, err := sm.pairing.StartPairing(dev, func(r PairingResult) {
		sm.post(func() { sm.onPairingComplete(dev, id, r) })
	})
	if err != nil {
		delete(sm.attempts, dev)
		a.log.Warnf("pairing did not start: %v", err)
		sm.dispatch.notify(event{kind: eventBondFailed, dev: dev, reason: errors.Wrap(err, "start pairing")})
		return
	}

	a.handle = h
	a.timer = sm.clock.AfterFunc(sm.pairingTimeout, func() {
		sm.post(func() { sm.onPairingTimeout(dev, id) })
	})
	a.log.Info("pairing started")
}

// current returns the attempt for dev if it is the one identified by id.
func (sm *bondingStateMachine) current(dev Device, id uuid.UUID) *bondAttempt {
	a, ok := sm.attempts[dev]
	if !ok || a.id != id {
		return nil
	}
	return a
}

func (sm *bondingStateMachine) finish(a *bondAttempt) {
	a.stopTimers()
	delete(sm.attempts, a.dev)
}

func (sm *bondingStateMachine) onPairingComplete(dev Device, id uuid.UUID, r PairingResult) {
	a := sm.current(dev, id)
	if a == nil {
		sm.log.Debugf("dropping stale pairing result for %s (attempt %s)", dev, id)
		return
	}

	if a.aborting {
		// whatever the handshake produced, the attempt was cancelled
		a.log.Debugf("abort acknowledged (%v)", r.Err)
		sm.finishAbort(a)
		return
	}

	sm.finish(a)
	elapsed := sm.clock.Now().Sub(a.started)

	if r.Err == nil && r.Bond == nil {
		r.Err = errors.Wrap(ErrPairingRejected, "no key material")
	}
	if r.Err != nil {
		a.log.Infof("pairing failed after %v: %v", elapsed, r.Err)
		sm.dispatch.notify(event{kind: eventBondFailed, dev: dev, reason: r.Err})
		return
	}

	rec := Record{Device: dev, State: Bonded, Bond: r.Bond, Updated: sm.clock.Now()}
	if err := sm.store.put(rec); err != nil {
		a.log.Errorf("bond not stored: %v", err)
		sm.dispatch.notify(event{kind: eventBondFailed, dev: dev, reason: err})
		return
	}

	a.log.Infof("bonded after %v", elapsed)
	sm.dispatch.notify(event{kind: eventBonded, dev: dev})
}

func (sm *bondingStateMachine) onPairingTimeout(dev Device, id uuid.UUID) {
	a := sm.current(dev, id)
	if a == nil || a.aborting {
		return
	}

	sm.finish(a)
	sm.pairing.AbortPairing(a.handle)
	a.log.Infof("pairing timed out after %v", sm.pairingTimeout)
	sm.dispatch.notify(event{
		kind:   eventBondFailed,
		dev:    dev,
		reason: errors.Wrapf(ErrPairingTimeout, "no result after %v", sm.pairingTimeout),
	})
}

func (sm *bondingStateMachine) cancelBond(dev Device) {
	a, ok := sm.attempts[dev]
	if !ok {
		sm.log.Debugf("cancel for %s: no bond in progress", dev)
		return
	}
	if a.aborting {
		a.recreate = false
		return
	}
	sm.abort(a)
}

func (sm *bondingStateMachine) abort(a *bondAttempt) {
	a.aborting = true
	a.timer.Stop()

	dev, id := a.dev, a.id
	a.abortTimer = sm.clock.AfterFunc(sm.abortTimeout, func() {
		sm.post(func() { sm.onAbortTimeout(dev, id) })
	})
	a.log.Info("aborting pairing")
	sm.pairing.AbortPairing(a.handle)
}

func (sm *bondingStateMachine) onAbortTimeout(dev Device, id uuid.UUID) {
	a := sm.current(dev, id)
	if a == nil || !a.aborting {
		return
	}
	a.log.Warnf("%v after %v, discarding attempt", ErrAbortTimeout, sm.abortTimeout)
	sm.finishAbort(a)
}

func (sm *bondingStateMachine) finishAbort(a *bondAttempt) {
	sm.finish(a)
	a.log.Info("bonding cancelled")
	if a.recreate {
		sm.start(a.dev)
	}
}

func (sm *bondingStateMachine) removeBond(dev Device) {
	if a, ok := sm.attempts[dev]; ok {
		a.recreate = false
		if !a.aborting {
			sm.abort(a)
		}
		return
	}

	removed, err := sm.store.remove(dev)
	if err != nil {
		sm.log.Errorf("bond with %s not removed: %v", dev, err)
		return
	}
	if !removed {
		sm.log.Debugf("remove for %s: not bonded", dev)
		return
	}

	sm.log.Infof("bond with %s removed", dev)
	sm.dispatch.notify(event{kind: eventUnbonded, dev: dev})
}

// linkLost fails the attempt with dev, if any. The handshake cannot finish
// without a link, so an attempt being aborted is done as well.
func (sm *bondingStateMachine) linkLost(dev Device) {
	a, ok := sm.attempts[dev]
	if !ok {
		return
	}
	if a.aborting {
		sm.finishAbort(a)
		return
	}

	sm.finish(a)
	sm.pairing.AbortPairing(a.handle)
	a.log.Info("link lost during pairing")
	sm.dispatch.notify(event{kind: eventBondFailed, dev: dev, reason: errors.WithStack(ErrLinkLost)})
}

func (sm *bondingStateMachine) encrypt(dev Device, enc Encrypter) error {
	r, ok := sm.store.get(dev)
	if !ok {
		return errors.Wrap(ErrNotBonded, dev.String())
	}
	return enc.Encrypt(dev, r.Bond)
}

// shutdown aborts every attempt without notifying anyone.
func (sm *bondingStateMachine) shutdown() {
	for dev, a := range sm.attempts {
		a.stopTimers()
		if !a.aborting {
			sm.pairing.AbortPairing(a.handle)
		}
		delete(sm.attempts, dev)
	}
}
