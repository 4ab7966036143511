// Package logbuffer implements the segmented log at the heart of the
// transport: fixed-capacity term buffers holding length-prefixed,
// alignment-padded frames.
//
// # Overview
//
// A Log is a ring of three term partitions. Writers reserve space in the
// active term with an atomic add on the raw tail (term id in the high 32
// bits, tail offset in the low 32), write the frame body, and publish the
// frame by storing the header length word last. Readers load the length
// word with an atomic load and treat zero as "not yet committed", so a
// frame is never observed half written. When a claim does not fit in the
// remaining space of a term the remainder is consumed by a padding frame
// and the log rotates to the next term.
//
// Positions are 64-bit stream addresses computed from (term id, term
// offset) by a shift derived from the term length. They increase strictly
// and never regress.
//
// API surface (internal)
//
//	l, err := NewLog(Settings{TermLength: 64 * 1024, SessionID: 1, StreamID: 10})
//	// Append a committed frame; returns the new tail position or a rotation signal
//	pos, err := l.Append(FlagUnfragmented, 0, payload)
//
//	// Zero-copy claim; commit publishes, abort turns the region into padding
//	var bc Claim
//	pos, err = l.TryClaim(int32(len(payload)), &bc)
//	copy(bc.Buffer(), payload)
//	bc.Commit()
//
// The receive side uses a Rebuilder: frames are inserted by (term id, term
// offset) idempotently, so duplicates arriving over multiple transport
// paths are a no-op, and consumed in strict position order.
package logbuffer
