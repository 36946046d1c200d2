package bond

import (
	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
)

type codec interface {
	marshal(v interface{}) ([]byte, error)
	unmarshal(data []byte, v interface{}) error
}

type jsonCodec struct{}

func (jsonCodec) marshal(v interface{}) ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
}

func (jsonCodec) unmarshal(data []byte, v interface{}) error {
	return jsoniter.Unmarshal(data, v)
}

var cborEnc = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type cborCodec struct{}

func (cborCodec) marshal(v interface{}) ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (cborCodec) unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
