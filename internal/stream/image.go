package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rzbill/weft/internal/counters"
	"github.com/rzbill/weft/internal/logbuffer"
)

// Image is the per-source view of one incoming stream: it reassembles
// frames for one (session, stream) pair in position order and may be fed
// by several transport paths at once. Every position is delivered to the
// application exactly once no matter how many paths carry it.
type Image struct {
	sessionID     int32
	streamID      int32
	correlationID int64
	termLength    int32
	initialTermID int32
	bits          uint8

	reb    *logbuffer.Rebuilder
	asm    assembler
	filter celFilter
	clk    clock.Clock

	imageTimeout time.Duration

	mu      sync.Mutex
	sources map[uint64]time.Time

	// NAK pacing: a gap must survive one full tick before it is nak'd,
	// then re-arms, so retransmissions get a cycle to land.
	gapArmed     bool
	lastGapStart int64
	lossRecorded int64

	ctrPosition *counters.Counter
	ctrHWM      *counters.Counter
	ctrLoss     *counters.Counter
}

type imageParams struct {
	sessionID     int32
	streamID      int32
	correlationID int64
	termLength    int32
	initialTermID int32
	joinPosition  int64
	imageTimeout  time.Duration
	filter        celFilter
	clk           clock.Clock
	registry      *counters.Registry
}

func newImage(p imageParams) (*Image, error) {
	reb, err := logbuffer.NewRebuilder(p.termLength, p.initialTermID, p.joinPosition)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("img-%d", p.correlationID)
	img := &Image{
		sessionID:     p.sessionID,
		streamID:      p.streamID,
		correlationID: p.correlationID,
		termLength:    p.termLength,
		initialTermID: p.initialTermID,
		bits:          logbuffer.PositionBitsToShift(p.termLength),
		reb:           reb,
		filter:        p.filter,
		clk:           p.clk,
		imageTimeout:  p.imageTimeout,
		sources:       make(map[uint64]time.Time),
		lastGapStart:  -1,
		lossRecorded:  -1,

		ctrPosition: p.registry.Allocate(counters.TypeReceiverPosition, label, p.sessionID, p.streamID),
		ctrHWM:      p.registry.Allocate(counters.TypeReceiverHWM, label, p.sessionID, p.streamID),
		ctrLoss:     p.registry.Allocate(counters.TypeLossBytes, label, p.sessionID, p.streamID),
	}
	img.ctrPosition.Set(p.joinPosition)
	img.ctrHWM.Set(p.joinPosition)
	return img, nil
}

// SessionID identifies the source session of this image.
func (img *Image) SessionID() int32 { return img.sessionID }

// CorrelationID identifies this image instance.
func (img *Image) CorrelationID() int64 { return img.correlationID }

// Position returns the position consumed by the application so far.
func (img *Image) Position() int64 { return img.reb.Consumed() }

// ActiveTransportCount returns the number of transport paths currently
// contributing frames to this image.
func (img *Image) ActiveTransportCount() int {
	img.mu.Lock()
	defer img.mu.Unlock()
	return len(img.sources)
}

// IsConnected reports whether at least one transport path is live.
func (img *Image) IsConnected() bool { return img.ActiveTransportCount() > 0 }

func (img *Image) refreshSource(path uint64) {
	img.mu.Lock()
	img.sources[path] = img.clk.Now()
	img.mu.Unlock()
}

// removeSource drops one transport path, e.g. when a subscription
// destination is removed explicitly.
func (img *Image) removeSource(path uint64) {
	img.mu.Lock()
	delete(img.sources, path)
	img.mu.Unlock()
}

// onFrame inserts one data or padding frame arriving on the given path.
func (img *Image) onFrame(path uint64, h logbuffer.Header, frame []byte) int {
	img.refreshSource(path)
	added := img.reb.Insert(h, frame)
	if added > 0 {
		img.ctrHWM.SetMax(img.reb.HighWater())
		return int(added)
	}
	return 0
}

// onHeartbeat notes the sender's tail so trailing loss is detectable.
func (img *Image) onHeartbeat(path uint64, h logbuffer.Header) {
	img.refreshSource(path)
	img.reb.OnHeartbeat(h.TermID, h.TermOffset)
	img.ctrHWM.SetMax(img.reb.HighWater())
}

// Poll delivers up to fragmentLimit whole messages in position order.
func (img *Image) Poll(handler Handler, fragmentLimit int) int {
	n := img.reb.Read(func(h logbuffer.Header, payload []byte) {
		img.asm.onFrame(h, payload, func(msg []byte, last logbuffer.Header) {
			pos := img.reb.Consumed()
			if img.filter.Eval(msg, last, pos) {
				handler(msg, last)
			}
		})
	}, fragmentLimit)
	if n > 0 {
		img.ctrPosition.Set(img.reb.Consumed())
	}
	return n
}

// consumptionPoint returns the consumed position split into term
// coordinates for status messages.
func (img *Image) consumptionPoint() (termID, termOffset int32) {
	pos := img.reb.Consumed()
	return logbuffer.TermIDFromPosition(pos, img.bits, img.initialTermID), logbuffer.TermOffsetFromPosition(pos, img.bits)
}

// tick prunes stale transport paths and decides whether to request a
// retransmission. It returns a NAK frame to send (or nil) and whether
// the image still has any live path.
func (img *Image) tick(now time.Time) (nak []byte, alive bool) {
	img.mu.Lock()
	for path, last := range img.sources {
		if now.Sub(last) > img.imageTimeout {
			delete(img.sources, path)
		}
	}
	alive = len(img.sources) > 0
	img.mu.Unlock()

	termID, termOffset, length, ok := img.reb.Gap()
	if !ok {
		img.gapArmed = false
		img.lastGapStart = -1
		return nil, alive
	}
	gapStart := logbuffer.ComputePosition(termID, termOffset, img.bits, img.initialTermID)
	if gapStart > img.lossRecorded {
		// First observation of this extent: account the loss once.
		img.ctrLoss.Add(int64(length))
		img.lossRecorded = gapStart
	}
	if img.gapArmed && img.lastGapStart == gapStart {
		img.gapArmed = false
		return logbuffer.EncodeNak(img.sessionID, img.streamID, termID, termOffset, length), alive
	}
	img.gapArmed = true
	img.lastGapStart = gapStart
	return nil, alive
}
