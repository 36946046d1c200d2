package bond

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/rigado/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	devA = security.MustParseDevice("c0:11:22:33:44:55", security.AddrTypeRandom)
	devB = security.MustParseDevice("00:1b:dc:07:32:aa", security.AddrTypePublic)
)

func testRecord(dev security.Device, seed byte) security.Record {
	ltk := make([]byte, 16)
	for i := range ltk {
		ltk[i] = seed + byte(i)
	}
	return security.Record{
		Device:  dev,
		State:   security.Bonded,
		Bond:    security.NewBondInfo(ltk, 0x1234, 0x0102030405060708, seed%2 == 0),
		Updated: time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func assertRecord(t *testing.T, want, got security.Record) {
	t.Helper()
	assert.Equal(t, want.Device, got.Device)
	assert.Equal(t, security.Bonded, got.State)
	assert.Equal(t, want.Bond.LongTermKey(), got.Bond.LongTermKey())
	assert.Equal(t, want.Bond.EDiv(), got.Bond.EDiv())
	assert.Equal(t, want.Bond.Random(), got.Bond.Random())
	assert.Equal(t, want.Bond.Legacy(), got.Bond.Legacy())
	assert.True(t, want.Updated.Equal(got.Updated), "updated %v != %v", want.Updated, got.Updated)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.json")
	s := NewFileStore(path)
	assert.Equal(t, path, s.Path())
	rr, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, rr)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.json")
	require.NoError(t, ioutil.WriteFile(path, nil, 0600))

	rr, err := NewFileStore(path).LoadAll()
	require.NoError(t, err)
	assert.Empty(t, rr)
}

func TestSaveLoadDelete(t *testing.T) {
	for _, name := range []string{"bonds.json", "bonds.cbor"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data", name)
			s := NewFileStore(path)

			a, b := testRecord(devA, 1), testRecord(devB, 2)
			require.NoError(t, s.Save(a))
			require.NoError(t, s.Save(b))

			// a second store sees what the first wrote
			rr, err := NewFileStore(path).LoadAll()
			require.NoError(t, err)
			require.Len(t, rr, 2)
			assertRecord(t, a, rr[0])
			assertRecord(t, b, rr[1])

			a2 := testRecord(devA, 9)
			require.NoError(t, s.Save(a2))
			rr, err = s.LoadAll()
			require.NoError(t, err)
			require.Len(t, rr, 2, "save replaces the entry of the same device")
			assertRecord(t, a2, rr[0])

			require.NoError(t, s.Delete(devA))
			require.NoError(t, s.Delete(devA))
			rr, err = s.LoadAll()
			require.NoError(t, err)
			require.Len(t, rr, 1)
			assertRecord(t, b, rr[0])
		})
	}
}

func TestSameAddressDifferentType(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "bonds.json"))
	pub := security.MustParseDevice("c0:11:22:33:44:55", security.AddrTypePublic)

	require.NoError(t, s.Save(testRecord(devA, 1)))
	require.NoError(t, s.Save(testRecord(pub, 2)))

	rr, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, rr, 2)
}

func TestJSONLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.json")
	require.NoError(t, NewFileStore(path).Save(testRecord(devB, 0)))

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"address": "001bdc0732aa"`)
	assert.Contains(t, string(data), `"addressType": "public"`)
	assert.Contains(t, string(data), `"longTermKey": "000102030405060708090a0b0c0d0e0f"`)
	assert.Contains(t, string(data), `"encryptionDiversifier": "3412"`)
	assert.Contains(t, string(data), `"randomValue": "0807060504030201"`)
}

func TestMalformed(t *testing.T) {
	for name, content := range map[string]string{
		"garbage": `{"bonds":`,
		"address": `{"bonds":[{"address":"xyz","addressType":"public","longTermKey":"000102030405060708090a0b0c0d0e0f","encryptionDiversifier":"0000","randomValue":"0000000000000000"}]}`,
		"type":    `{"bonds":[{"address":"001bdc0732aa","addressType":"weird","longTermKey":"000102030405060708090a0b0c0d0e0f","encryptionDiversifier":"0000","randomValue":"0000000000000000"}]}`,
		"ltk":     `{"bonds":[{"address":"001bdc0732aa","addressType":"public","longTermKey":"0001","encryptionDiversifier":"0000","randomValue":"0000000000000000"}]}`,
		"ediv":    `{"bonds":[{"address":"001bdc0732aa","addressType":"public","longTermKey":"000102030405060708090a0b0c0d0e0f","encryptionDiversifier":"zz","randomValue":"0000000000000000"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bonds.json")
			require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))

			_, err := NewFileStore(path).LoadAll()
			assert.Error(t, err)
		})
	}
}

func TestSaveRejectsEmptyBond(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "bonds.json"))
	assert.Error(t, s.Save(security.Record{Device: devA}))
}

func TestManagerWithFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.cbor")
	require.NoError(t, NewFileStore(path).Save(testRecord(devA, 3)))

	m, err := security.New(
		security.OptPairingService(noPairing{}),
		security.OptPersistence(NewFileStore(path)),
	)
	require.NoError(t, err)
	require.NoError(t, m.Init())
	defer m.Close()

	assert.Equal(t, security.Bonded, m.BondState(devA))
	assert.Equal(t, []security.Device{devA}, m.BondedDevices())
}

type noPairing struct{}

func (noPairing) StartPairing(security.Device, func(security.PairingResult)) (security.PairingHandle, error) {
	return nil, nil
}

func (noPairing) AbortPairing(security.PairingHandle) {}
