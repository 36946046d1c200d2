package security

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
)

// recordStore is the in-memory view of the bonded devices. It is only
// touched from the dispatcher, so it has no lock.
type recordStore struct {
	p       Persistence
	log     Logger
	records map[Device]*Record
}

func newRecordStore(p Persistence, log Logger) *recordStore {
	return &recordStore{
		p:       p,
		log:     log,
		records: make(map[Device]*Record),
	}
}

func (s *recordStore) load() error {
	rr, err := s.p.LoadAll()
	if err != nil {
		return errors.Wrap(ErrPersistenceLoad, err.Error())
	}

	for i := range rr {
		r := rr[i]
		if err := r.Device.Validate(); err != nil {
			return errors.Wrapf(ErrPersistenceLoad, "record %d: %s", i, err)
		}
		if r.Bond == nil {
			return errors.Wrapf(ErrPersistenceLoad, "record for %s has no key material", r.Device)
		}
		r.State = Bonded
		s.records[r.Device] = &r
	}

	s.log.Infof("loaded %d security records", len(s.records))
	return nil
}

func (s *recordStore) get(dev Device) (*Record, bool) {
	r, ok := s.records[dev]
	return r, ok
}

// put persists r and then makes it visible in memory.
func (s *recordStore) put(r Record) error {
	r.State = Bonded
	if err := s.p.Save(r); err != nil {
		return errors.Wrapf(ErrPersistenceWrite, "%s: %s", r.Device, err)
	}
	s.records[r.Device] = &r
	return nil
}

// remove reports whether a record existed. The in-memory record is kept
// when the persistent delete fails so that memory never claims less than
// what survives a restart.
func (s *recordStore) remove(dev Device) (bool, error) {
	if _, ok := s.records[dev]; !ok {
		return false, nil
	}
	if err := s.p.Delete(dev); err != nil {
		return false, errors.Wrapf(err, "delete %s", dev)
	}
	delete(s.records, dev)
	return true, nil
}

func (s *recordStore) devices() []Device {
	out := make([]Device, 0, len(s.records))
	for d := range s.records {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Address[:], out[j].Address[:]); c != 0 {
			return c < 0
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// volatile keeps nothing; it backs a Manager configured without
// persistence.
type volatile struct{}

func (volatile) LoadAll() ([]Record, error) { return nil, nil }
func (volatile) Save(Record) error          { return nil }
func (volatile) Delete(Device) error        { return nil }
