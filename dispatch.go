package security

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

type eventKind int

const (
	eventBonded eventKind = iota
	eventUnbonded
	eventBondFailed
)

func (k eventKind) String() string {
	switch k {
	case eventBonded:
		return "bonded"
	case eventUnbonded:
		return "unbonded"
	case eventBondFailed:
		return "bond failed"
	}
	return "unknown"
}

type event struct {
	kind   eventKind
	dev    Device
	reason error
}

func (e event) deliver(l Listener) {
	switch e.kind {
	case eventBonded:
		l.OnDeviceBonded(e.dev)
	case eventUnbonded:
		l.OnDeviceUnbonded(e.dev)
	case eventBondFailed:
		l.OnDeviceBondFailed(e.dev, e.reason)
	}
}

type registration struct {
	l Listener
	h Handler
}

// listenerDispatch holds the listener registrations. Registration changes
// take effect before register/unregister return; notify holds the read
// lock while handing events to the handlers, so once unregister returns no
// later notify can reach the listener.
type listenerDispatch struct {
	mu   sync.RWMutex
	regs []registration
}

func newListenerDispatch() *listenerDispatch {
	return &listenerDispatch{}
}

func validListener(l Listener) error {
	if l == nil {
		return errors.Wrap(ErrInvalidListener, "nil")
	}
	t := reflect.TypeOf(l)
	if !t.Comparable() {
		return errors.Wrapf(ErrInvalidListener, "%s is not comparable", t)
	}
	if t.Kind() == reflect.Ptr && reflect.ValueOf(l).IsNil() {
		return errors.Wrap(ErrInvalidListener, "nil pointer")
	}
	return nil
}

// register adds l or replaces its handler. It reports whether l was new.
func (d *listenerDispatch) register(l Listener, h Handler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.regs {
		if d.regs[i].l == l {
			d.regs[i].h = h
			return false
		}
	}
	d.regs = append(d.regs, registration{l: l, h: h})
	return true
}

func (d *listenerDispatch) unregister(l Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.regs {
		if d.regs[i].l == l {
			d.regs = append(d.regs[:i], d.regs[i+1:]...)
			return true
		}
	}
	return false
}

func (d *listenerDispatch) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

// notify posts e to every registered listener's handler. It never calls a
// listener directly.
func (d *listenerDispatch) notify(e event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, r := range d.regs {
		l := r.l
		r.h.Post(func() { e.deliver(l) })
	}
}
