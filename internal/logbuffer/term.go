package logbuffer

import (
	"sync/atomic"
)

// termTripped signals that a claim did not fit in the remaining space of
// the term and the log must rotate.
const termTripped int32 = -1

// termAppender owns the write side of one term partition. Space is
// reserved with an atomic add on the raw tail: term id in the high 32
// bits, tail offset in the low 32. Multiple writers may claim
// concurrently; each writes only its own reserved range.
type termAppender struct {
	buf     []byte
	rawTail atomic.Int64
}

func newTermAppender(termLength, termID int32) *termAppender {
	ta := &termAppender{buf: make([]byte, termLength)}
	ta.rawTail.Store(int64(termID) << 32)
	return ta
}

// reset recycles the partition for a new term. Callers must guarantee no
// reader still addresses the old term.
func (ta *termAppender) reset(termID int32) {
	clear(ta.buf)
	ta.rawTail.Store(int64(termID) << 32)
}

func (ta *termAppender) termID() int32 {
	return int32(ta.rawTail.Load() >> 32)
}

// tail returns the current tail offset capped at the term length.
func (ta *termAppender) tail(termLength int32) int32 {
	t := int32(ta.rawTail.Load() & 0xFFFFFFFF)
	if t > termLength {
		return termLength
	}
	return t
}

// reserve claims alignedLength bytes. On success it returns the claimed
// term offset and the term id. If the claim does not fit it pads the
// remainder of the term (possibly with a bare header-only pad) and
// returns termTripped.
func (ta *termAppender) reserve(termLength, alignedLength int32, h Header) (termOffset, termID, resulting int32) {
	raw := ta.rawTail.Add(int64(alignedLength))
	termID = int32(raw >> 32)
	resulting = int32(raw & 0xFFFFFFFF)
	termOffset = resulting - alignedLength

	if resulting > termLength {
		if termOffset < termLength {
			ta.pad(termOffset, termLength-termOffset, h, termID)
		}
		return termOffset, termID, termTripped
	}
	return termOffset, termID, resulting
}

// pad publishes a padding frame consuming length bytes at offset. A pad
// may be header-only when the remainder is exactly one alignment unit.
func (ta *termAppender) pad(offset, length int32, h Header, termID int32) {
	h.Version = CurrentVersion
	h.Flags = FlagUnfragmented
	h.Type = TypePad
	h.TermOffset = offset
	h.TermID = termID
	h.Reserved = 0
	writeHeaderBody(ta.buf, offset, h)
	frameLengthOrdered(ta.buf, offset, length)
}

// append reserves space and publishes a complete frame. The length word
// is stored last so concurrent readers never see a partial frame.
func (ta *termAppender) append(termLength int32, h Header, payload []byte) (termID, resulting int32) {
	frameLength := HeaderLength + int32(len(payload))
	termOffset, termID, resulting := ta.reserve(termLength, Align(frameLength), h)
	if resulting == termTripped {
		return termID, termTripped
	}
	h.Version = CurrentVersion
	h.TermOffset = termOffset
	h.TermID = termID
	writeHeaderBody(ta.buf, termOffset, h)
	copy(ta.buf[termOffset+HeaderLength:], payload)
	frameLengthOrdered(ta.buf, termOffset, frameLength)
	return termID, resulting
}

// claim reserves space for a zero-copy write. The header body is written
// immediately; the frame stays invisible until Claim.Commit stores the
// length word.
func (ta *termAppender) claim(termLength int32, h Header, length int32, c *Claim) (termID, resulting int32) {
	frameLength := HeaderLength + length
	alignedLength := Align(frameLength)
	termOffset, termID, resulting := ta.reserve(termLength, alignedLength, h)
	if resulting == termTripped {
		return termID, termTripped
	}
	h.Version = CurrentVersion
	h.TermOffset = termOffset
	h.TermID = termID
	writeHeaderBody(ta.buf, termOffset, h)
	c.wrap(ta.buf[termOffset:termOffset+alignedLength], frameLength)
	return termID, resulting
}
