// Package bond stores bonds in a single file, JSON by default or CBOR when
// the file name ends in ".cbor".
package bond

import (
	"encoding/binary"
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/security"
)

type bondFile struct {
	Bonds []remoteKeyInfo `json:"bonds" cbor:"bonds"`
}

type remoteKeyInfo struct {
	Address               string    `json:"address" cbor:"address"`
	AddressType           string    `json:"addressType" cbor:"addressType"`
	LongTermKey           string    `json:"longTermKey" cbor:"longTermKey"`
	EncryptionDiversifier string    `json:"encryptionDiversifier" cbor:"encryptionDiversifier"`
	RandomValue           string    `json:"randomValue" cbor:"randomValue"`
	Legacy                bool      `json:"legacy" cbor:"legacy"`
	Updated               time.Time `json:"updated" cbor:"updated"`
}

// FileStore is a security.Persistence backed by one file. Every operation
// reads the file again, so several processes may share it; writers are
// serialized with an advisory lock on "<path>.lock".
type FileStore struct {
	path  string
	codec codec
	lock  sync.Mutex
}

// NewFileStore returns a store for path. The file is created on the first
// Save.
func NewFileStore(path string) *FileStore {
	c := codec(jsonCodec{})
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		c = cborCodec{}
	}
	return &FileStore{path: path, codec: c}
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) LoadAll() ([]security.Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	unlock, err := lockFile(s.path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bf, err := s.read()
	if err != nil {
		return nil, err
	}

	out := make([]security.Record, 0, len(bf.Bonds))
	for i, rki := range bf.Bonds {
		r, err := rki.record()
		if err != nil {
			return nil, errors.Wrapf(err, "%s: entry %d", s.path, i)
		}
		out = append(out, r)
	}
	return out, nil
}

// Save adds r or replaces the entry for r.Device.
func (s *FileStore) Save(r security.Record) error {
	if r.Bond == nil {
		return errors.New("empty bond information")
	}
	if err := r.Device.Validate(); err != nil {
		return err
	}

	return s.update(func(bf *bondFile) {
		rki := createRemoteKeyInfo(r)
		for i := range bf.Bonds {
			if bf.Bonds[i].matches(r.Device) {
				bf.Bonds[i] = rki
				return
			}
		}
		bf.Bonds = append(bf.Bonds, rki)
	})
}

// Delete removes the entry for dev. Deleting a missing entry is not an
// error.
func (s *FileStore) Delete(dev security.Device) error {
	return s.update(func(bf *bondFile) {
		kept := bf.Bonds[:0]
		for _, b := range bf.Bonds {
			if !b.matches(dev) {
				kept = append(kept, b)
			}
		}
		bf.Bonds = kept
	})
}

func (s *FileStore) update(f func(*bondFile)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	unlock, err := lockFile(s.path)
	if err != nil {
		return err
	}
	defer unlock()

	bf, err := s.read()
	if err != nil {
		return err
	}
	f(bf)
	return s.write(bf)
}

func (s *FileStore) read() (*bondFile, error) {
	data, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &bondFile{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bond file")
	}

	var bf bondFile
	if len(data) > 0 {
		if err := s.codec.unmarshal(data, &bf); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal %s", s.path)
		}
	}
	return &bf, nil
}

// write replaces the file through a rename so readers never see a partial
// file.
func (s *FileStore) write(bf *bondFile) error {
	if bf.Bonds == nil {
		bf.Bonds = make([]remoteKeyInfo, 0)
	}
	out, err := s.codec.marshal(bf)
	if err != nil {
		return errors.Wrap(err, "failed to marshal bonds")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create bond directory")
	}
	tmp, err := ioutil.TempFile(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary bond file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write bond file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync bond file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close bond file")
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return errors.Wrap(err, "failed to set bond file mode")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "failed to update bond information")
}

func createRemoteKeyInfo(r security.Record) remoteKeyInfo {
	rki := remoteKeyInfo{
		Address:     r.Device.Hex(),
		AddressType: r.Device.Type.String(),
		LongTermKey: hex.EncodeToString(r.Bond.LongTermKey()),
		Legacy:      r.Bond.Legacy(),
		Updated:     r.Updated.UTC(),
	}

	eDiv := make([]byte, 2)
	binary.LittleEndian.PutUint16(eDiv, r.Bond.EDiv())

	randVal := make([]byte, 8)
	binary.LittleEndian.PutUint64(randVal, r.Bond.Random())

	rki.EncryptionDiversifier = hex.EncodeToString(eDiv)
	rki.RandomValue = hex.EncodeToString(randVal)
	return rki
}

func (rki remoteKeyInfo) device() (security.Device, error) {
	t, err := security.ParseAddrType(rki.AddressType)
	if err != nil {
		return security.Device{}, err
	}
	return security.ParseDevice(rki.Address, t)
}

func (rki remoteKeyInfo) matches(dev security.Device) bool {
	d, err := rki.device()
	return err == nil && d == dev
}

func (rki remoteKeyInfo) record() (security.Record, error) {
	dev, err := rki.device()
	if err != nil {
		return security.Record{}, err
	}

	ltk, err := hex.DecodeString(rki.LongTermKey)
	if err != nil || len(ltk) != 16 {
		return security.Record{}, errors.Errorf("invalid long term key for %s", dev)
	}

	eDiv, err := hex.DecodeString(rki.EncryptionDiversifier)
	if err != nil || len(eDiv) != 2 {
		return security.Record{}, errors.Errorf("invalid ediv for %s", dev)
	}

	randVal, err := hex.DecodeString(rki.RandomValue)
	if err != nil || len(randVal) != 8 {
		return security.Record{}, errors.Errorf("invalid random value for %s", dev)
	}

	return security.Record{
		Device:  dev,
		State:   security.Bonded,
		Bond:    security.NewBondInfo(ltk, binary.LittleEndian.Uint16(eDiv), binary.LittleEndian.Uint64(randVal), rki.Legacy),
		Updated: rki.Updated,
	}, nil
}
