package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/weft/internal/channel"
	"github.com/rzbill/weft/internal/counters"
	"github.com/rzbill/weft/internal/flowcontrol"
	"github.com/rzbill/weft/internal/logbuffer"
	"github.com/rzbill/weft/internal/transport"
	"github.com/rzbill/weft/pkg/log"
)

// Offer and TryClaim results. Expected transport conditions are status
// codes, not errors; the caller backs off and retries.
const (
	// NotConnected: no admitted receiver bounds the flow-control limit.
	NotConnected int64 = -1
	// BackPressured: the limit is reached; retry after receivers drain.
	BackPressured int64 = -2
	// AdminAction: the term rotated under the operation; retry at once.
	AdminAction int64 = -3
	// PubClosed: the publication was closed.
	PubClosed int64 = -4
	// MaxPositionExceeded: the stream exhausted its position space.
	MaxPositionExceeded int64 = -5
)

var (
	// ErrMessageTooLong is a protocol violation: the offered message
	// exceeds the maximum message length for the term.
	ErrMessageTooLong = errors.New("stream: message exceeds maximum message length")
	// ErrClaimTooLong is a protocol violation: a claim must fit one frame.
	ErrClaimTooLong = errors.New("stream: claim exceeds maximum payload length")
)

// PublicationParams collects the dependencies of one publication.
type PublicationParams struct {
	Channel      channel.Channel
	StreamID     int32
	SessionID    int32
	Registration int64
	Exclusive    bool

	TermLength int32
	MaxPayload int32
	// MaxMessage bounds one offer; zero means an eighth of the term.
	MaxMessage int32
	// HeartbeatInterval paces SETUP and heartbeat emission; zero means
	// every duty cycle.
	HeartbeatInterval time.Duration

	Network  *transport.Network
	Group    *flowcontrol.Group
	Registry *counters.Registry
	Logger   log.Logger
}

// Publication is the producer-side API of one stream: non-blocking
// offers and claims into a segmented log, paced by receiver feedback.
type Publication struct {
	params     PublicationParams
	log        *logbuffer.Log
	group      *flowcontrol.Group
	logger     log.Logger
	maxMessage int32

	// lastAnnounce is only touched from the duty-cycle goroutine.
	lastAnnounce time.Time

	mu    sync.Mutex
	ports map[uint64]*transport.Port

	senderPosition atomic.Int64
	closed         atomic.Bool

	ctrSenderLimit    *counters.Counter
	ctrSenderPosition *counters.Counter
	ctrPubLimit       *counters.Counter
	ctrHeartbeats     *counters.Counter
	ctrNaksReceived   *counters.Counter
	ctrRetransmits    *counters.Counter
}

// NewPublication builds a publication and attaches its first destination
// when the channel names an endpoint.
func NewPublication(p PublicationParams) (*Publication, error) {
	lb, err := logbuffer.NewLog(logbuffer.Settings{
		TermLength: p.TermLength,
		SessionID:  p.SessionID,
		StreamID:   p.StreamID,
	})
	if err != nil {
		return nil, err
	}
	maxMessage := p.MaxMessage
	if maxMessage <= 0 {
		maxMessage = p.TermLength / 8
	}
	label := fmt.Sprintf("pub-%d", p.Registration)
	pub := &Publication{
		params:     p,
		log:        lb,
		group:      p.Group,
		logger:     p.Logger.WithComponent("publication"),
		maxMessage: maxMessage,
		ports:      make(map[uint64]*transport.Port),

		ctrSenderLimit:    p.Registry.Allocate(counters.TypeSenderLimit, label, p.SessionID, p.StreamID),
		ctrSenderPosition: p.Registry.Allocate(counters.TypeSenderPosition, label, p.SessionID, p.StreamID),
		ctrPubLimit:       p.Registry.Allocate(counters.TypePublisherLimit, label, p.SessionID, p.StreamID),
		ctrHeartbeats:     p.Registry.Allocate(counters.TypeHeartbeats, label, p.SessionID, p.StreamID),
		ctrNaksReceived:   p.Registry.Allocate(counters.TypeNaksReceived, label, p.SessionID, p.StreamID),
		ctrRetransmits:    p.Registry.Allocate(counters.TypeRetransmits, label, p.SessionID, p.StreamID),
	}
	// Dynamic mode attaches the control endpoint too: the fabric fans
	// out to whatever ports are bound there at send time, so later
	// attachments join without an explicit AddDestination. Only manual
	// mode starts detached.
	if p.Channel.Endpoint != "" && p.Channel.ControlMode != channel.ControlModeManual {
		pub.AddDestination(p.Channel.Endpoint)
	}
	return pub, nil
}

// AddDestination attaches an additional transport endpoint; used with
// manual control mode for multi-destination-cast.
func (p *Publication) AddDestination(endpoint string) {
	port := p.params.Network.Attach(endpoint, transport.RolePublish)
	p.mu.Lock()
	p.ports[port.ID()] = port
	p.mu.Unlock()
	p.logger.Debug("destination added", log.Str("endpoint", endpoint))
}

// RemoveDestination detaches the destination on the named endpoint.
func (p *Publication) RemoveDestination(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, port := range p.ports {
		if port.Endpoint() == endpoint {
			port.Close()
			delete(p.ports, id)
		}
	}
}

func (p *Publication) portSnapshot() []*transport.Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*transport.Port, 0, len(p.ports))
	for _, port := range p.ports {
		out = append(out, port)
	}
	return out
}

// SessionID returns the session identity of this publication.
func (p *Publication) SessionID() int32 { return p.params.SessionID }

// StreamID returns the stream this publication writes to.
func (p *Publication) StreamID() int32 { return p.params.StreamID }

// RegistrationID returns the registration id assigned at creation.
func (p *Publication) RegistrationID() int64 { return p.params.Registration }

// IsExclusive reports whether this publication has a single writer
// identity.
func (p *Publication) IsExclusive() bool { return p.params.Exclusive }

// Position returns the current write position.
func (p *Publication) Position() int64 { return p.log.Position() }

// Limit returns the current flow-control limit.
func (p *Publication) Limit() int64 { return p.group.Limit() }

// IsConnected reports whether enough receivers are admitted for offers
// to be accepted. Never blocks.
func (p *Publication) IsConnected() bool {
	return !p.closed.Load() && p.group.IsConnected()
}

// IsClosed reports whether the publication was closed.
func (p *Publication) IsClosed() bool { return p.closed.Load() }

// Close makes all subsequent operations return PubClosed and detaches
// the destinations. In-flight claims on term regions may still commit.
func (p *Publication) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	for id, port := range p.ports {
		port.Close()
		delete(p.ports, id)
	}
	p.mu.Unlock()
}

// Offer writes one message, fragmenting over the maximum payload when
// needed. It returns the stream position after the message, or one of
// the negative status codes. The only errors are protocol violations.
func (p *Publication) Offer(data []byte) (int64, error) {
	if p.closed.Load() {
		return PubClosed, nil
	}
	if int32(len(data)) > p.maxMessage {
		return 0, fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(data), p.maxMessage)
	}
	if !p.group.IsConnected() {
		return NotConnected, nil
	}

	position := p.log.Position()
	required := requiredLength(int32(len(data)), p.params.MaxPayload)
	if position+int64(required) > p.log.MaxPosition() {
		return MaxPositionExceeded, nil
	}
	if position+int64(required) > p.group.Limit() {
		return BackPressured, nil
	}

	if int32(len(data)) <= p.params.MaxPayload {
		pos, err := p.log.Append(logbuffer.FlagUnfragmented, 0, data)
		if errors.Is(err, logbuffer.ErrRotated) {
			return AdminAction, nil
		}
		return pos, err
	}
	return p.offerFragmented(data)
}

// offerFragmented splits data into maximum-payload fragments carrying
// BEGIN/END flags. Once the first fragment is in, later fragments retry
// across a rotation internally so a message is never half-abandoned.
func (p *Publication) offerFragmented(data []byte) (int64, error) {
	maxPayload := int(p.params.MaxPayload)
	var pos int64
	for offset := 0; offset < len(data); offset += maxPayload {
		end := offset + maxPayload
		if end > len(data) {
			end = len(data)
		}
		var flags uint8
		if offset == 0 {
			flags |= logbuffer.FlagBegin
		}
		if end == len(data) {
			flags |= logbuffer.FlagEnd
		}
		var err error
		pos, err = p.log.Append(flags, 0, data[offset:end])
		if errors.Is(err, logbuffer.ErrRotated) {
			if offset == 0 {
				return AdminAction, nil
			}
			// Mid-message rotation: the fragment goes on the fresh term.
			if pos, err = p.log.Append(flags, 0, data[offset:end]); err != nil {
				return 0, err
			}
		} else if err != nil {
			return 0, err
		}
	}
	return pos, nil
}

// TryClaim reserves a zero-copy region for a single-fragment message.
// The caller must Commit or Abort the claim before the region becomes
// visible or reusable.
func (p *Publication) TryClaim(length int32, c *logbuffer.Claim) (int64, error) {
	if p.closed.Load() {
		return PubClosed, nil
	}
	if length > p.params.MaxPayload {
		return 0, fmt.Errorf("%w: %d > %d", ErrClaimTooLong, length, p.params.MaxPayload)
	}
	if !p.group.IsConnected() {
		return NotConnected, nil
	}
	position := p.log.Position()
	required := logbuffer.Align(logbuffer.HeaderLength + length)
	if position+int64(required) > p.log.MaxPosition() {
		return MaxPositionExceeded, nil
	}
	if position+int64(required) > p.group.Limit() {
		return BackPressured, nil
	}
	pos, err := p.log.TryClaim(length, c)
	if errors.Is(err, logbuffer.ErrRotated) {
		return AdminAction, nil
	}
	return pos, err
}

// requiredLength is the total aligned length data occupies in the term.
func requiredLength(length, maxPayload int32) int32 {
	if length <= maxPayload {
		return logbuffer.Align(logbuffer.HeaderLength + length)
	}
	full := length / maxPayload
	rem := length % maxPayload
	total := full * logbuffer.Align(logbuffer.HeaderLength+maxPayload)
	if rem > 0 {
		total += logbuffer.Align(logbuffer.HeaderLength + rem)
	}
	return total
}

// DoWork runs one sender cycle: ingest control frames, announce the
// stream, pump committed frames to every destination, and tick liveness.
// Returns the amount of work done.
func (p *Publication) DoWork(now time.Time) int {
	if p.closed.Load() {
		return 0
	}
	work := 0
	ports := p.portSnapshot()
	senderPos := p.senderPosition.Load()

	for _, port := range ports {
		work += port.Poll(func(src uint64, frame []byte) {
			p.onControlFrame(frame)
		}, 64)
	}

	// Announce geometry so late joiners seed at the current tail; images
	// treat repeats as liveness refreshes. Paced by HeartbeatInterval.
	tail := p.log.Position()
	announce := p.params.HeartbeatInterval <= 0 || now.Sub(p.lastAnnounce) >= p.params.HeartbeatInterval
	if announce {
		p.lastAnnounce = now
		setup := logbuffer.EncodeSetup(
			p.params.SessionID, p.params.StreamID,
			logbuffer.TermIDFromPosition(tail, p.log.PositionBits(), 0),
			logbuffer.TermOffsetFromPosition(tail, p.log.PositionBits()),
			p.params.TermLength, 0,
		)
		for _, port := range ports {
			port.Send(setup)
		}
	}

	// Pump committed frames up to the flow-control limit.
	limit := p.group.Limit()
	if burst := limit - senderPos; burst > 0 {
		newPos := p.log.Scan(senderPos, clampInt32(burst), func(frame []byte) {
			for _, port := range ports {
				port.Send(frame)
			}
		})
		if newPos > senderPos {
			p.senderPosition.Store(newPos)
			p.ctrSenderPosition.Set(newPos)
			work += int(newPos - senderPos)
			senderPos = newPos
		}
	}
	if announce && senderPos == tail && len(ports) > 0 {
		// Idle stream: heartbeat carries the tail for trailing-loss
		// detection and keeps images alive.
		hb := logbuffer.EncodeHeartbeat(
			p.params.SessionID, p.params.StreamID,
			logbuffer.TermIDFromPosition(tail, p.log.PositionBits(), 0),
			logbuffer.TermOffsetFromPosition(tail, p.log.PositionBits()),
		)
		for _, port := range ports {
			port.Send(hb)
		}
		p.ctrHeartbeats.Add(1)
	}

	if evicted := p.group.Tick(senderPos); evicted > 0 {
		p.logger.Debug("receivers evicted", log.Int("count", evicted))
		work += evicted
	}
	p.ctrSenderLimit.Set(p.group.SenderBound())
	p.ctrPubLimit.Set(p.group.Limit())
	return work
}

func (p *Publication) onControlFrame(frame []byte) {
	h, body, err := logbuffer.ParseFrame(frame)
	if err != nil {
		p.logger.Warn("bad control frame", log.Err(err))
		return
	}
	if h.SessionID != p.params.SessionID || h.StreamID != p.params.StreamID {
		return
	}
	switch h.Type {
	case logbuffer.TypeStatus:
		sp, err := logbuffer.DecodeStatus(body)
		if err != nil {
			p.logger.Warn("bad status message", log.Err(err))
			return
		}
		pos := logbuffer.ComputePosition(h.TermID, h.TermOffset, p.log.PositionBits(), 0)
		p.group.OnStatus(flowcontrol.Status{
			ReceiverID:  sp.ReceiverID,
			Position:    pos,
			Window:      sp.Window,
			ReceiverTag: sp.ReceiverTag,
			GroupTag:    sp.GroupTag,
			HasGroupTag: sp.HasGroupTag,
		}, p.senderPosition.Load())
	case logbuffer.TypeNak:
		p.ctrNaksReceived.Add(1)
		pos := logbuffer.ComputePosition(h.TermID, h.TermOffset, p.log.PositionBits(), 0)
		ports := p.portSnapshot()
		resent := 0
		p.log.ReadRange(pos, int32(h.Reserved), func(frame []byte) {
			for _, port := range ports {
				port.Send(frame)
			}
			resent++
		})
		if resent > 0 {
			p.ctrRetransmits.Add(int64(resent))
		}
	}
}

func clampInt32(v int64) int32 {
	if v > int64(1<<30) {
		return 1 << 30
	}
	return int32(v)
}
