package container

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// payload is anything that can serialize itself into the container's
// data region. Redirect entries have no payload.
type payload interface {
	appendTo(dst []byte) ([]byte, error)
}

// pair tracks the primary entry for a value and its most recent
// redirect. Before any redirect exists, both fields name the primary.
type pair struct {
	primary  int
	redirect int
}

// entry is one pool slot: either a direct entry carrying a payload or
// a redirect pointing at the primary slot for the same value.
type entry struct {
	payload payload
	target  int
}

func (e *entry) isRedirect() bool { return e.payload == nil }

// pool is an append-only deduplicating table. Interning an existing
// value returns its primary index, except inside an open window: then
// an old value gets a fresh redirect entry so that the window stays a
// contiguous run of indexes. Blobs and units never open windows, so
// those pools never contain redirects.
type pool struct {
	name    string
	entries []entry
	index   map[string]pair
	window  int
	locked  bool
}

func newPool(name string) *pool {
	return &pool{name: name, index: make(map[string]pair), window: -1}
}

// intern returns the pool index for key. fresh reports whether a new
// primary entry was appended, in which case pl backs it; redirects and
// hits report false and drop pl.
func (p *pool) intern(key string, pl payload) (idx int, fresh bool, err error) {
	if pr, ok := p.index[key]; ok {
		if p.window >= 0 && pr.primary < p.window {
			if pr.redirect >= p.window {
				// Already redirected inside this window; the caller's
				// contiguity check turns this into an error.
				return pr.redirect, false, nil
			}
			if p.locked {
				return 0, false, fmt.Errorf("%w: %s pool", ErrPoolLocked, p.name)
			}
			r := len(p.entries)
			p.entries = append(p.entries, entry{target: pr.primary})
			p.index[key] = pair{primary: pr.primary, redirect: r}
			return r, false, nil
		}
		return pr.primary, false, nil
	}
	if p.locked {
		return 0, false, fmt.Errorf("%w: %s pool", ErrPoolLocked, p.name)
	}
	idx = len(p.entries)
	p.entries = append(p.entries, entry{payload: pl, target: idx})
	p.index[key] = pair{primary: idx, redirect: idx}
	return idx, true, nil
}

// lookup returns the primary index for key without interning.
func (p *pool) lookup(key string) (int, bool) {
	pr, ok := p.index[key]
	return pr.primary, ok
}

// openWindow starts a contiguous index window at the current end of
// the pool and returns its first index.
func (p *pool) openWindow() int {
	p.window = len(p.entries)
	return p.window
}

func (p *pool) closeWindow() {
	p.window = -1
}

func (p *pool) len() int { return len(p.entries) }

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// stringPayload is UTF-8 text prefixed with its byte length.
type stringPayload string

func (s stringPayload) appendTo(dst []byte) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...), nil
}

// bytesBlob is a raw byte string prefixed with its length.
type bytesBlob []byte

func (b bytesBlob) appendTo(dst []byte) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...), nil
}

// longBlob is an integer too wide for an instruction operand, stored
// as a signed varint with no length prefix.
type longBlob struct {
	value *big.Int
}

func (l longBlob) appendTo(dst []byte) ([]byte, error) {
	return appendSvarint(dst, l.value), nil
}

// floatBlob is eight little-endian IEEE 754 bytes.
type floatBlob float64

func (f floatBlob) appendTo(dst []byte) ([]byte, error) {
	return appendFloatBits(dst, float64(f)), nil
}
