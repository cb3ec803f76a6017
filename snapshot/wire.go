package snapshot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	// Hosts encode with definite or indefinite lengths depending on their
	// serializer; accept both.
	dm, err := cbor.DecOptions{
		IndefLength: cbor.IndefLengthAllowed,
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Encode serializes an entity list to CBOR bytes.
func Encode(entities []Entity) ([]byte, error) {
	data, err := encMode.Marshal(entities)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// Decode deserializes an entity list from CBOR bytes.
func Decode(data []byte) ([]Entity, error) {
	var entities []Entity
	if err := decMode.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return entities, nil
}
