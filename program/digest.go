package program

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a keyed BLAKE3 hash of a canonically encoded record.
// Equal digests mean equal records, so digests serve as cache keys and
// as dedup identities for units.
type Digest [32]byte

// Keyed hashing separates our digests from any other BLAKE3 use.
// Keys must be exactly 32 bytes; trailing digits pad the shorter one.
var (
	programDigestKey = []byte("pyco-program-record-digest-key-1")
	unitDigestKey    = []byte("pyco-unit-record-digest-key-0001")
)

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Digest returns the content digest of the whole program.
func (p *Program) Digest() (Digest, error) {
	data, err := Marshal(p)
	if err != nil {
		return Digest{}, err
	}
	return keyedDigest(programDigestKey, data), nil
}

// UnitIdentities returns a content digest per unit. A unit's identity
// covers its whole subtree: unit references contribute the identity of
// the referenced unit rather than its index, so two structurally equal
// units hash alike no matter where their programs placed them. Units
// are hashed last to first, which works because references only point
// forward.
func (p *Program) UnitIdentities() ([]Digest, error) {
	ids := make([]Digest, len(p.Units))
	for i := len(p.Units) - 1; i >= 0; i-- {
		u := p.Units[i]
		refs := appendUnitRefs(nil, u.Constants)
		for _, r := range refs {
			if r <= i || r >= len(p.Units) {
				return nil, fmt.Errorf("%w: unit %d references unit %d", ErrInvalidProgram, i, r)
			}
		}
		u.Constants = stripUnitRefs(u.Constants)
		data, err := cborEncMode.Marshal(&u)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal unit %d: %w", i, err)
		}
		hasher, err := blake3.NewKeyed(unitDigestKey)
		if err != nil {
			return nil, fmt.Errorf("creating keyed hasher: %w", err)
		}
		hasher.Write(data)
		for _, r := range refs {
			hasher.Write(ids[r][:])
		}
		copy(ids[i][:], hasher.Sum(nil))
	}
	return ids, nil
}

// appendUnitRefs collects unit reference targets in depth-first
// order, descending into tuples and sets.
func appendUnitRefs(refs []int, cs []Constant) []int {
	for i := range cs {
		switch cs[i].Kind {
		case KindUnit:
			refs = append(refs, cs[i].Unit)
		case KindTuple, KindSet:
			refs = appendUnitRefs(refs, cs[i].Elems)
		}
	}
	return refs
}

// stripUnitRefs copies cs with every unit reference index zeroed, so
// the encoded record carries reference positions but not indexes; the
// indexes are replaced by subtree identities during hashing.
func stripUnitRefs(cs []Constant) []Constant {
	if len(cs) == 0 {
		return cs
	}
	out := make([]Constant, len(cs))
	copy(out, cs)
	for i := range out {
		switch out[i].Kind {
		case KindUnit:
			out[i].Unit = 0
		case KindTuple, KindSet:
			out[i].Elems = stripUnitRefs(out[i].Elems)
		}
	}
	return out
}

func keyedDigest(key, data []byte) Digest {
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		panic(fmt.Sprintf("program: creating keyed hasher: %v", err))
	}
	hasher.Write(data)
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d
}
