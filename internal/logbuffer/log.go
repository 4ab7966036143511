package logbuffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrRotated reports that an append tripped the end of the active
	// term; the remainder was padded and the log advanced to the next
	// term. The caller retries on the fresh term.
	ErrRotated = errors.New("logbuffer: term rotated")

	ErrInvalidTermLength = errors.New("logbuffer: term length must be a power of two within bounds")
)

// Settings fixes the geometry and identity of a Log.
type Settings struct {
	TermLength    int32
	InitialTermID int32
	SessionID     int32
	StreamID      int32
}

// Validate checks the term geometry.
func (s Settings) Validate() error {
	if !IsPowerOfTwo(s.TermLength) || s.TermLength < TermMinLength || s.TermLength > TermMaxLength {
		return fmt.Errorf("%w: %d", ErrInvalidTermLength, s.TermLength)
	}
	return nil
}

// Log is the write side of a segmented stream: a ring of term partitions
// rotated as each fills. One Log is owned by one publication; frames stay
// addressable for retransmission until their partition is recycled, two
// terms later.
type Log struct {
	settings        Settings
	bits            uint8
	partitions      [PartitionCount]*termAppender
	activeTermCount atomic.Int32
}

// NewLog builds a Log with the given geometry.
func NewLog(s Settings) (*Log, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	l := &Log{settings: s, bits: PositionBitsToShift(s.TermLength)}
	for i := range l.partitions {
		l.partitions[i] = newTermAppender(s.TermLength, s.InitialTermID+int32(i))
	}
	return l, nil
}

// Settings returns the log geometry.
func (l *Log) Settings() Settings { return l.settings }

// PositionBits returns the term id shift for this geometry.
func (l *Log) PositionBits() uint8 { return l.bits }

// Position returns the current tail position of the active term.
func (l *Log) Position() int64 {
	ta := l.partitions[IndexByTermCount(l.activeTermCount.Load())]
	return ComputePosition(ta.termID(), ta.tail(l.settings.TermLength), l.bits, l.settings.InitialTermID)
}

// MaxPosition returns the highest position this log can ever reach.
func (l *Log) MaxPosition() int64 {
	return MaxPossiblePosition(l.settings.TermLength)
}

func (l *Log) headerTemplate(flags uint8, frameType uint16, reserved int64) Header {
	return Header{
		Flags:     flags,
		Type:      frameType,
		SessionID: l.settings.SessionID,
		StreamID:  l.settings.StreamID,
		Reserved:  reserved,
	}
}

// Append reserves space in the active term and publishes one committed
// data frame. It returns the stream position after the frame, or
// ErrRotated when the frame did not fit and the log rolled to the next
// term.
func (l *Log) Append(flags uint8, reserved int64, payload []byte) (int64, error) {
	termCount := l.activeTermCount.Load()
	ta := l.partitions[IndexByTermCount(termCount)]
	termID, resulting := ta.append(l.settings.TermLength, l.headerTemplate(flags, TypeData, reserved), payload)
	if resulting == termTripped {
		l.rotate(termCount)
		return 0, ErrRotated
	}
	return ComputePosition(termID, resulting, l.bits, l.settings.InitialTermID), nil
}

// TryClaim reserves a zero-copy frame region of the given payload length.
// The claim must be committed or aborted before the region becomes
// visible or reusable. Returns ErrRotated on term exhaustion like Append.
func (l *Log) TryClaim(length int32, c *Claim) (int64, error) {
	termCount := l.activeTermCount.Load()
	ta := l.partitions[IndexByTermCount(termCount)]
	termID, resulting := ta.claim(l.settings.TermLength, l.headerTemplate(FlagUnfragmented, TypeData, 0), length, c)
	if resulting == termTripped {
		l.rotate(termCount)
		return 0, ErrRotated
	}
	return ComputePosition(termID, resulting, l.bits, l.settings.InitialTermID), nil
}

// rotate advances to the next term, recycling the partition two terms
// back. The next partition is prepared before the active term count is
// swung so claimers on the new term always find a clean buffer.
func (l *Log) rotate(termCount int32) {
	nextTermID := l.settings.InitialTermID + termCount + 1
	next := l.partitions[IndexByTermCount(termCount+1)]
	if next.termID() != nextTermID {
		next.reset(nextTermID)
	}
	l.activeTermCount.CompareAndSwap(termCount, termCount+1)
}

func (l *Log) partitionFor(termID int32) (*termAppender, bool) {
	termCount := termID - l.settings.InitialTermID
	if termCount < 0 {
		return nil, false
	}
	ta := l.partitions[IndexByTermCount(termCount)]
	if ta.termID() != termID {
		return nil, false
	}
	return ta, true
}

// Scan walks committed frames from position, invoking fn with each raw
// aligned frame, up to maxBytes. It returns the position after the last
// frame consumed. Scanning stops at the first uncommitted region.
func (l *Log) Scan(position int64, maxBytes int32, fn func(frame []byte)) int64 {
	for maxBytes > 0 {
		termID := TermIDFromPosition(position, l.bits, l.settings.InitialTermID)
		ta, ok := l.partitionFor(termID)
		if !ok {
			break
		}
		offset := TermOffsetFromPosition(position, l.bits)
		frameLength := frameLengthVolatile(ta.buf, offset)
		if frameLength <= 0 {
			break
		}
		aligned := Align(frameLength)
		fn(ta.buf[offset : offset+aligned])
		position += int64(aligned)
		maxBytes -= aligned
	}
	return position
}

// ReadRange feeds fn the committed frames covering [position,
// position+length), used to answer retransmission requests. Frames whose
// term has been recycled are skipped.
func (l *Log) ReadRange(position int64, length int32, fn func(frame []byte)) {
	l.Scan(position, length, fn)
}
