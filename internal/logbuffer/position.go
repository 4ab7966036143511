package logbuffer

import "math/bits"

// PartitionCount is the number of term partitions a log rotates through.
// Three partitions let the active term and its predecessor stay addressable
// (for retransmission and slow readers) while the next term is recycled.
const PartitionCount = 3

const (
	// TermMinLength and TermMaxLength bound the configurable term size.
	TermMinLength int32 = 64 * 1024
	TermMaxLength int32 = 1024 * 1024 * 1024
)

// PositionBitsToShift returns the shift used to combine a term id and term
// offset into a stream position. termLength must be a power of two.
func PositionBitsToShift(termLength int32) uint8 {
	return uint8(bits.TrailingZeros32(uint32(termLength)))
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int32) bool {
	return v > 0 && v&(v-1) == 0
}

// ComputePosition converts (termID, termOffset) into a stream position.
func ComputePosition(termID, termOffset int32, bitsToShift uint8, initialTermID int32) int64 {
	termCount := int64(termID) - int64(initialTermID)
	return (termCount << bitsToShift) + int64(termOffset)
}

// TermIDFromPosition recovers the term id a position falls in.
func TermIDFromPosition(position int64, bitsToShift uint8, initialTermID int32) int32 {
	return int32(position>>bitsToShift) + initialTermID
}

// TermOffsetFromPosition recovers the in-term offset of a position.
func TermOffsetFromPosition(position int64, bitsToShift uint8) int32 {
	return int32(position & ((int64(1) << bitsToShift) - 1))
}

// IndexByTermCount maps a term count onto a partition index.
func IndexByTermCount(termCount int32) int {
	return int(termCount % PartitionCount)
}

// MaxPossiblePosition is the highest position addressable for a term
// length before the term id space is exhausted.
func MaxPossiblePosition(termLength int32) int64 {
	return int64(termLength) << 31
}
