// Package container builds and reads the PYC. binary container, a
// compact mappable format for compiled programs.
//
// A container holds four deduplicated pools: units (executable
// blocks), constants (bootstrap code sequences that reconstruct
// compound values), strings, and blobs (raw payloads for longs,
// floats, and byte strings). The file layout is
//
//	"PYC."  u16 version  u16 flags  u32 reserved  u32 total_size
//	u32 unit_count      u32 offsets[unit_count]
//	u32 constant_count  u32 offsets[constant_count]
//	u32 string_count    u32 offsets[string_count]
//	u32 blob_count      u32 offsets[blob_count]
//	data region, every entry padded to a 4-byte boundary
//
// Offsets are absolute file offsets with the low bit clear. An entry
// whose offset word has the low bit set is a redirect: the remaining
// bits name the pool index holding the real data. Redirects exist so
// that each unit can address its constants and names through a
// contiguous window of pool indexes even when some of those values
// were already interned by an earlier unit.
//
// Builder turns program records into container bytes; Reader gives
// lazy, memoized access to the pools of an existing container.
package container
