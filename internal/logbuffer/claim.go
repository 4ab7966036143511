package logbuffer

import (
	"encoding/binary"
	"errors"
)

var errClaimSettled = errors.New("logbuffer: claim already committed or aborted")

// Claim grants direct write access to a reserved frame region. The region
// is invisible to readers until Commit publishes the length word; Abort
// converts the region into padding so readers skip it. Exactly one of the
// two must be called before the claim is reused.
type Claim struct {
	frame       []byte
	frameLength int32
	settled     bool
}

func (c *Claim) wrap(frame []byte, frameLength int32) {
	c.frame = frame
	c.frameLength = frameLength
	c.settled = false
}

// Buffer returns the payload region of the claimed frame.
func (c *Claim) Buffer() []byte {
	return c.frame[HeaderLength:c.frameLength]
}

// Commit publishes the claimed frame to readers.
func (c *Claim) Commit() error {
	if c.settled {
		return errClaimSettled
	}
	c.settled = true
	frameLengthOrdered(c.frame, 0, c.frameLength)
	return nil
}

// Abort discards the claimed region by publishing it as padding.
func (c *Claim) Abort() error {
	if c.settled {
		return errClaimSettled
	}
	c.settled = true
	c.frame[flagsOffset] = FlagUnfragmented
	binary.NativeEndian.PutUint16(c.frame[typeOffset:], TypePad)
	frameLengthOrdered(c.frame, 0, int32(len(c.frame)))
	return nil
}
