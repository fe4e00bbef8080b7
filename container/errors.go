package container

import "errors"

// Build-side errors.
var (
	// ErrPoolLocked is returned when an insert reaches a locked pool.
	// Lookups of already-interned values still succeed after locking.
	ErrPoolLocked = errors.New("pool is locked")

	// ErrNotLocked is returned by Bytes when the builder has not been
	// locked yet; locking is what freezes the pool indexes.
	ErrNotLocked = errors.New("builder is not locked")

	// ErrUnsupportedConstant is returned for constant kinds the
	// container cannot encode in the requested position.
	ErrUnsupportedConstant = errors.New("unsupported constant")

	// ErrTooManyConstants is returned when a unit's code addresses a
	// constant past the one-byte operand range.
	ErrTooManyConstants = errors.New("more than 256 constants")

	// ErrWindowMismatch is returned when a unit's constants or names
	// cannot be interned at contiguous pool indexes, which happens when
	// the same value occupies two slots of one unit.
	ErrWindowMismatch = errors.New("window index mismatch")

	// ErrParamCellCollision is returned when a parameter is also a
	// cell variable; the single-kind local table cannot express that.
	ErrParamCellCollision = errors.New("parameter is also a cell variable")

	// ErrTooLarge is returned when an offset or size overflows the
	// 32-bit fields of the format.
	ErrTooLarge = errors.New("container too large")
)

// Read-side errors.
var (
	ErrBadMagic      = errors.New("bad magic")
	ErrBadVersion    = errors.New("unsupported version")
	ErrBadFlags      = errors.New("unsupported flags")
	ErrSizeMismatch  = errors.New("size mismatch")
	ErrBadIndex      = errors.New("index out of range")
	ErrRedirectChain = errors.New("redirect points at another redirect")
	ErrUnexpectedEOF = errors.New("unexpected end of data")
	ErrBadVarint     = errors.New("malformed varint")
	ErrMalformed     = errors.New("malformed container")
)
