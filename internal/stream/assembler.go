package stream

import (
	"github.com/rzbill/weft/internal/logbuffer"
)

// Handler receives one whole message: the payload (reassembled if it was
// fragmented) and the header of its final frame.
type Handler func(payload []byte, h logbuffer.Header)

// assembler rebuilds logical messages from BEGIN/END flagged fragments
// arriving in position order. The buffer resets on every BEGIN, so a
// sender restart mid-message never leaks a torn payload.
type assembler struct {
	buf        []byte
	inProgress bool
}

func (a *assembler) onFrame(h logbuffer.Header, payload []byte, deliver Handler) {
	flags := h.Flags & logbuffer.FlagUnfragmented
	switch flags {
	case logbuffer.FlagUnfragmented:
		a.inProgress = false
		deliver(payload, h)
	case logbuffer.FlagBegin:
		a.buf = append(a.buf[:0], payload...)
		a.inProgress = true
	case logbuffer.FlagEnd:
		if !a.inProgress {
			return // tail of a message that began before we joined
		}
		a.buf = append(a.buf, payload...)
		a.inProgress = false
		deliver(a.buf, h)
	default: // middle fragment
		if !a.inProgress {
			return
		}
		a.buf = append(a.buf, payload...)
	}
}
