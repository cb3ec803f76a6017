package server

import (
	"github.com/fxamacker/cbor/v2"
)

// cborCodec carries ScriptService messages as CBOR, the same encoding the
// host uses for entity snapshots. Requests use Content-Type
// application/cbor.
type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	return cbor.Marshal(msg)
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	return cbor.Unmarshal(data, msg)
}
