package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/security/handler"
)

var (
	deviceA = MustParseDevice("c0:11:22:33:44:55", AddrTypeRandom)
	deviceB = MustParseDevice("00:1b:dc:07:32:aa", AddrTypePublic)
)

func testBond(seed byte) BondInfo {
	ltk := make([]byte, 16)
	for i := range ltk {
		ltk[i] = seed + byte(i)
	}
	return NewBondInfo(ltk, 0, 0, false)
}

type fakeHandshake struct {
	n    int
	dev  Device
	done func(PairingResult)
}

// fakePairing records calls and completes handshakes when told to.
type fakePairing struct {
	mu       sync.Mutex
	n        int
	starts   map[Device]int
	aborts   []int
	live     map[Device]*fakeHandshake
	startErr error

	// ackAbort makes AbortPairing complete the handshake with
	// ErrPairingAborted right away
	ackAbort bool

	// latency, when set, completes every handshake successfully after
	// the given real time
	latency time.Duration
}

func newFakePairing() *fakePairing {
	return &fakePairing{
		starts: make(map[Device]int),
		live:   make(map[Device]*fakeHandshake),
	}
}

func (f *fakePairing) StartPairing(dev Device, done func(PairingResult)) (PairingHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	f.n++
	f.starts[dev]++
	hs := &fakeHandshake{n: f.n, dev: dev, done: done}
	f.live[dev] = hs

	if f.latency > 0 {
		time.AfterFunc(f.latency, func() { f.complete(dev, PairingResult{Bond: testBond(1)}) })
	}
	return hs, nil
}

func (f *fakePairing) AbortPairing(h PairingHandle) {
	hs := h.(*fakeHandshake)

	f.mu.Lock()
	f.aborts = append(f.aborts, hs.n)
	ack := f.ackAbort
	f.mu.Unlock()

	if ack {
		f.finish(hs, PairingResult{Err: ErrPairingAborted})
	}
}

// complete finishes the latest live handshake with dev.
func (f *fakePairing) complete(dev Device, r PairingResult) {
	f.mu.Lock()
	hs := f.live[dev]
	f.mu.Unlock()

	if hs == nil {
		panic(fmt.Sprintf("no live handshake for %s", dev))
	}
	f.finish(hs, r)
}

func (f *fakePairing) finish(hs *fakeHandshake, r PairingResult) {
	f.mu.Lock()
	if f.live[hs.dev] == hs {
		delete(f.live, hs.dev)
	}
	f.mu.Unlock()

	hs.done(r)
}

func (f *fakePairing) startCount(dev Device) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[dev]
}

func (f *fakePairing) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborts)
}

type memPersistence struct {
	mu        sync.Mutex
	records   map[Device]Record
	loadErr   error
	saveErr   error
	deleteErr error
	saves     int
	deletes   int
}

func newMemPersistence(rr ...Record) *memPersistence {
	p := &memPersistence{records: make(map[Device]Record)}
	for _, r := range rr {
		p.records[r.Device] = r
	}
	return p
}

func (p *memPersistence) LoadAll() ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loadErr != nil {
		return nil, p.loadErr
	}
	var out []Record
	for _, r := range p.records {
		out = append(out, r)
	}
	return out, nil
}

func (p *memPersistence) Save(r Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.saveErr != nil {
		return p.saveErr
	}
	p.saves++
	p.records[r.Device] = r
	return nil
}

func (p *memPersistence) Delete(dev Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deletes++
	delete(p.records, dev)
	return nil
}

func (p *memPersistence) has(dev Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.records[dev]
	return ok
}

type recorded struct {
	kind   eventKind
	dev    Device
	reason error
}

// recorder is a Listener that keeps what it was told. It runs on its own
// handler.
type recorder struct {
	h *handler.Handler

	mu     sync.Mutex
	events []recorded
	notify chan struct{}
}

func newRecorder(name string) *recorder {
	return &recorder{
		h:      handler.New(name),
		notify: make(chan struct{}, 64),
	}
}

func (r *recorder) add(e recorded) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) OnDeviceBonded(dev Device) {
	r.add(recorded{kind: eventBonded, dev: dev})
}

func (r *recorder) OnDeviceUnbonded(dev Device) {
	r.add(recorded{kind: eventUnbonded, dev: dev})
}

func (r *recorder) OnDeviceBondFailed(dev Device, reason error) {
	r.add(recorded{kind: eventBondFailed, dev: dev, reason: reason})
}

func (r *recorder) all() []recorded {
	r.h.Sync()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recorded, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(kind eventKind, dev Device) int {
	n := 0
	for _, e := range r.all() {
		if e.kind == kind && e.dev == dev {
			n++
		}
	}
	return n
}

// waitFor waits up to d for n events in total.
func (r *recorder) waitFor(n int, d time.Duration) ([]recorded, error) {
	deadline := time.After(d)
	for {
		if ev := r.all(); len(ev) >= n {
			return ev, nil
		}
		select {
		case <-r.notify:
		case <-deadline:
			return r.all(), errors.Errorf("timed out waiting for %d events", n)
		}
	}
}

func (r *recorder) close() {
	r.h.Close()
}

// storeCheck records, at each callback, whether persistence held the
// device's record.
type storeCheck struct {
	p *memPersistence
	h *handler.Handler

	mu       sync.Mutex
	bonded   []bool
	unbonded []bool
}

func (c *storeCheck) OnDeviceBonded(dev Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bonded = append(c.bonded, c.p.has(dev))
}

func (c *storeCheck) OnDeviceUnbonded(dev Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbonded = append(c.unbonded, c.p.has(dev))
}

func (c *storeCheck) OnDeviceBondFailed(Device, error) {}

func (c *storeCheck) seen() (bonded, unbonded []bool) {
	c.h.Sync()
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.bonded...), append([]bool(nil), c.unbonded...)
}

type fakeEncrypter struct {
	mu  sync.Mutex
	dev Device
	ltk []byte
}

func (e *fakeEncrypter) Encrypt(dev Device, bond BondInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dev = dev
	e.ltk = append([]byte(nil), bond.LongTermKey()...)
	return nil
}

// sliceListener is a Listener whose type cannot be a map key.
type sliceListener []int

func (sliceListener) OnDeviceBonded(Device)            {}
func (sliceListener) OnDeviceUnbonded(Device)          {}
func (sliceListener) OnDeviceBondFailed(Device, error) {}
