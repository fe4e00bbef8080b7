package program

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is the canonical CBOR encoding mode used for program
// records. Canonical form keeps encoding deterministic, so the same
// program always produces the same bytes and the same content digest.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("program: initializing CBOR encoding mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a program record to canonical CBOR.
func Marshal(p *Program) ([]byte, error) {
	data, err := cborEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal program: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a program record from CBOR. The record is not
// validated; callers that accept untrusted input should run Validate
// before handing the program to the container builder.
func Unmarshal(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal program: %w", err)
	}
	return &p, nil
}
