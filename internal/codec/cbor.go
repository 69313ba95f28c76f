// Package codec encodes persisted state and journaled events as CBOR.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// logical value always produces identical bytes, which lets callers derive
// content ids from the encoding.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	// Unknown fields are ignored so older rows decode into newer structs.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// ContentID returns a hex BLAKE3 digest of kind and the deterministic
// encoding of v. Equal values of the same kind share an id.
func ContentID(kind string, v any) (string, []byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	hasher := blake3.New()
	hasher.Write([]byte(kind))
	hasher.Write([]byte{0})
	hasher.Write(payload)

	return fmt.Sprintf("%x", hasher.Sum(nil)), payload, nil
}
