package logbuffer

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// FrameHandler receives one committed data frame during consumption.
type FrameHandler func(h Header, payload []byte)

const invalidTermID int64 = math.MinInt64

// Rebuilder is the read side of a segmented stream: it reassembles frames
// arriving in any order, over any number of transport paths, back into
// position order. Inserts are idempotent, a frame already present is
// dropped by its committed length word, so duplicate delivery is a no-op.
//
// Three positions are tracked:
//
//	consumed ≤ rebuilt ≤ highWater
//
// consumed advances as the application reads frames, rebuilt is the
// contiguous extent of committed data, and highWater is the furthest
// byte ever observed (including heartbeat tails). A gap is any zero
// region between rebuilt and highWater.
type Rebuilder struct {
	termLength    int32
	bits          uint8
	initialTermID int32

	partitions      [PartitionCount][]byte
	partitionTermID [PartitionCount]atomic.Int64

	consumed  atomic.Int64
	rebuilt   atomic.Int64
	highWater atomic.Int64
}

// NewRebuilder builds a Rebuilder seeded at joinPosition: nothing below
// the join position is reassembled or delivered.
func NewRebuilder(termLength, initialTermID int32, joinPosition int64) (*Rebuilder, error) {
	if !IsPowerOfTwo(termLength) {
		return nil, ErrInvalidTermLength
	}
	r := &Rebuilder{
		termLength:    termLength,
		bits:          PositionBitsToShift(termLength),
		initialTermID: initialTermID,
	}
	for i := range r.partitions {
		r.partitions[i] = make([]byte, termLength)
		r.partitionTermID[i].Store(invalidTermID)
	}
	joinTermID := TermIDFromPosition(joinPosition, r.bits, initialTermID)
	r.partitionTermID[IndexByTermCount(joinTermID-initialTermID)].Store(int64(joinTermID))
	r.consumed.Store(joinPosition)
	r.rebuilt.Store(joinPosition)
	r.highWater.Store(joinPosition)
	return r, nil
}

// JoinPosition-independent accessors.
func (r *Rebuilder) Consumed() int64  { return r.consumed.Load() }
func (r *Rebuilder) Rebuilt() int64   { return r.rebuilt.Load() }
func (r *Rebuilder) HighWater() int64 { return r.highWater.Load() }

func (r *Rebuilder) updateHighWater(pos int64) {
	for {
		hw := r.highWater.Load()
		if pos <= hw || r.highWater.CompareAndSwap(hw, pos) {
			return
		}
	}
}

// OnHeartbeat notes the sender's tail so trailing loss is detectable.
func (r *Rebuilder) OnHeartbeat(termID, termOffset int32) {
	r.updateHighWater(ComputePosition(termID, termOffset, r.bits, r.initialTermID))
}

// Insert places one frame (data or padding) at its term position.
// Returns the count of new bytes added, zero for duplicates and frames
// outside the current window.
func (r *Rebuilder) Insert(h Header, frame []byte) int32 {
	pos := ComputePosition(h.TermID, h.TermOffset, r.bits, r.initialTermID)
	consumed := r.consumed.Load()
	aligned := Align(h.Length)
	if pos+int64(aligned) <= consumed {
		return 0 // stale: already consumed
	}
	consumedTermID := TermIDFromPosition(consumed, r.bits, r.initialTermID)
	if h.TermID-consumedTermID > PartitionCount-2 {
		return 0 // beyond the retained window; flow control should prevent this
	}

	idx := IndexByTermCount(h.TermID - r.initialTermID)
	cur := r.partitionTermID[idx].Load()
	if cur != int64(h.TermID) {
		if cur != invalidTermID && cur > int64(h.TermID) {
			return 0 // frame for a recycled term
		}
		clear(r.partitions[idx])
		r.partitionTermID[idx].Store(int64(h.TermID))
	}

	buf := r.partitions[idx]
	if frameLengthVolatile(buf, h.TermOffset) != 0 {
		return 0 // duplicate arrival on another path
	}
	copy(buf[h.TermOffset+4:h.TermOffset+aligned], frame[4:aligned])
	frameLengthOrdered(buf, h.TermOffset, h.Length)
	r.updateHighWater(pos + int64(aligned))
	return aligned
}

// ScanRebuilt advances the contiguous rebuilt position over committed
// frames and returns it.
func (r *Rebuilder) ScanRebuilt() int64 {
	pos := r.rebuilt.Load()
	for {
		buf, offset, ok := r.locate(pos)
		if !ok {
			break
		}
		frameLength := frameLengthVolatile(buf, offset)
		if frameLength <= 0 {
			break
		}
		pos += int64(Align(frameLength))
	}
	r.rebuilt.Store(pos)
	return pos
}

// Gap reports the first missing extent between the rebuilt position and
// the high-water mark, measured in alignment steps over zeroed length
// words. ok is false when the stream is contiguous.
func (r *Rebuilder) Gap() (termID, termOffset, length int32, ok bool) {
	start := r.ScanRebuilt()
	hw := r.highWater.Load()
	if start >= hw {
		return 0, 0, 0, false
	}
	termID = TermIDFromPosition(start, r.bits, r.initialTermID)
	termOffset = TermOffsetFromPosition(start, r.bits)
	limit := r.termLength
	if hwTerm := TermIDFromPosition(hw, r.bits, r.initialTermID); hwTerm == termID {
		limit = TermOffsetFromPosition(hw, r.bits)
	}
	buf, offset, okTerm := r.locate(start)
	if !okTerm {
		// Term not yet allocated: everything up to the limit is missing.
		return termID, termOffset, limit - termOffset, true
	}
	for end := offset; ; end += FrameAlignment {
		if end >= limit || frameLengthVolatile(buf, end) != 0 {
			return termID, termOffset, end - offset, true
		}
	}
}

// locate maps a position onto its partition buffer and in-term offset.
func (r *Rebuilder) locate(pos int64) ([]byte, int32, bool) {
	termID := TermIDFromPosition(pos, r.bits, r.initialTermID)
	idx := IndexByTermCount(termID - r.initialTermID)
	if r.partitionTermID[idx].Load() != int64(termID) {
		return nil, 0, false
	}
	return r.partitions[idx], TermOffsetFromPosition(pos, r.bits), true
}

// Read consumes committed frames in position order, invoking fn for each
// data frame and skipping padding, up to fragmentLimit data frames. It
// returns the number of data frames delivered.
func (r *Rebuilder) Read(fn FrameHandler, fragmentLimit int) int {
	pos := r.consumed.Load()
	read := 0
	for read < fragmentLimit {
		buf, offset, ok := r.locate(pos)
		if !ok {
			break
		}
		frameLength := frameLengthVolatile(buf, offset)
		if frameLength <= 0 {
			break
		}
		aligned := Align(frameLength)
		frameType := binary.NativeEndian.Uint16(buf[offset+typeOffset:])
		if frameType != TypePad {
			h := Header{
				Length:     frameLength,
				Version:    buf[offset+versionOffset],
				Flags:      buf[offset+flagsOffset],
				Type:       frameType,
				TermOffset: offset,
				SessionID:  int32(binary.NativeEndian.Uint32(buf[offset+sessionIDOffset:])),
				StreamID:   int32(binary.NativeEndian.Uint32(buf[offset+streamIDOffset:])),
				TermID:     int32(binary.NativeEndian.Uint32(buf[offset+termIDOffset:])),
				Reserved:   int64(binary.NativeEndian.Uint64(buf[offset+reservedOffset:])),
			}
			fn(h, buf[offset+HeaderLength:offset+frameLength])
			read++
		}
		pos += int64(aligned)
		r.consumed.Store(pos)
	}
	return read
}
