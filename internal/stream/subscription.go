package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rzbill/weft/internal/channel"
	"github.com/rzbill/weft/internal/counters"
	"github.com/rzbill/weft/internal/logbuffer"
	"github.com/rzbill/weft/internal/transport"
	"github.com/rzbill/weft/pkg/log"
)

// SubscriptionParams collects the dependencies of one subscription.
type SubscriptionParams struct {
	Channel      channel.Channel
	StreamID     int32
	Registration int64

	Window       int32
	ImageTimeout time.Duration
	// StatusInterval paces unforced status messages; zero means every
	// duty cycle. A new image always reports immediately.
	StatusInterval time.Duration

	// Filter is an optional CEL expression gating delivery.
	Filter string

	Network  *transport.Network
	Registry *counters.Registry
	Clock    clock.Clock
	Logger   log.Logger
}

// Subscription is the consumer-side API of one stream. Each distinct
// source session materializes as an Image; Poll round-robins across
// them so one chatty session cannot starve the rest.
type Subscription struct {
	params SubscriptionParams
	filter celFilter
	clk    clock.Clock
	logger log.Logger

	recvID uint64

	mu        sync.Mutex
	ports     map[uint64]*transport.Port
	images    []*Image
	bySession map[int32]*Image
	pollIdx   int
	imageSeq  int64

	// lastStatus is only touched from the duty-cycle goroutine.
	lastStatus time.Time

	closed atomic.Bool

	ctrNaksSent *counters.Counter
}

// NewSubscription builds a subscription and attaches its first
// destination when the channel names an endpoint.
func NewSubscription(p SubscriptionParams) (*Subscription, error) {
	filter, err := newCELFilter(p.Filter)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		params:    p,
		filter:    filter,
		clk:       p.Clock,
		logger:    p.Logger.WithComponent("subscription"),
		recvID:    uint64(p.Registration),
		ports:     make(map[uint64]*transport.Port),
		bySession: make(map[int32]*Image),

		ctrNaksSent: p.Registry.Allocate(counters.TypeNaksSent, fmt.Sprintf("sub-%d", p.Registration), 0, p.StreamID),
	}
	// As on the publish side, dynamic mode rides the fabric's
	// attachment observation; only manual mode starts detached.
	if p.Channel.Endpoint != "" && p.Channel.ControlMode != channel.ControlModeManual {
		sub.AddDestination(p.Channel.Endpoint)
	}
	return sub, nil
}

// AddDestination attaches an additional transport endpoint; with manual
// control mode this is how a receiver merges multiple paths of the same
// stream.
func (s *Subscription) AddDestination(endpoint string) {
	port := s.params.Network.Attach(endpoint, transport.RoleSubscribe)
	s.mu.Lock()
	s.ports[port.ID()] = port
	s.mu.Unlock()
	s.logger.Debug("destination added", log.Str("endpoint", endpoint))
}

// RemoveDestination detaches the destination on the named endpoint.
// Images fed only by that destination will lose their last source and
// go unconnected; a merged image keeps flowing on its other paths.
func (s *Subscription) RemoveDestination(endpoint string) {
	s.mu.Lock()
	var removed []uint64
	for id, port := range s.ports {
		if port.Endpoint() == endpoint {
			port.Close()
			delete(s.ports, id)
			removed = append(removed, id)
		}
	}
	images := append([]*Image(nil), s.images...)
	s.mu.Unlock()
	for _, img := range images {
		for _, id := range removed {
			img.removeSource(id)
		}
	}
}

func (s *Subscription) portSnapshot() []*transport.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transport.Port, 0, len(s.ports))
	for _, port := range s.ports {
		out = append(out, port)
	}
	return out
}

// StreamID returns the stream this subscription reads.
func (s *Subscription) StreamID() int32 { return s.params.StreamID }

// RegistrationID returns the registration id assigned at creation.
func (s *Subscription) RegistrationID() int64 { return s.params.Registration }

// ImageCount returns the number of live images.
func (s *Subscription) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Images returns a snapshot of the live images.
func (s *Subscription) Images() []*Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Image(nil), s.images...)
}

// ImageBySession returns the image for one source session, or nil.
func (s *Subscription) ImageBySession(sessionID int32) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bySession[sessionID]
}

// IsConnected reports whether any image has a live transport path.
func (s *Subscription) IsConnected() bool {
	if s.closed.Load() {
		return false
	}
	for _, img := range s.Images() {
		if img.IsConnected() {
			return true
		}
	}
	return false
}

// IsClosed reports whether the subscription was closed.
func (s *Subscription) IsClosed() bool { return s.closed.Load() }

// Close detaches all destinations and drops the images. Poll and DoWork
// return zero afterwards.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	for id, port := range s.ports {
		port.Close()
		delete(s.ports, id)
	}
	s.images = nil
	s.bySession = make(map[int32]*Image)
	s.mu.Unlock()
}

// Poll delivers up to fragmentLimit message fragments, round-robinning
// across images in position order within each.
func (s *Subscription) Poll(handler Handler, fragmentLimit int) int {
	if s.closed.Load() {
		return 0
	}
	s.mu.Lock()
	images := append([]*Image(nil), s.images...)
	start := s.pollIdx
	s.pollIdx++
	s.mu.Unlock()
	if len(images) == 0 {
		return 0
	}

	total := 0
	for i := 0; i < len(images) && total < fragmentLimit; i++ {
		img := images[(start+i)%len(images)]
		total += img.Poll(handler, fragmentLimit-total)
	}
	return total
}

// DoWork runs one receiver cycle: ingest frames from every destination,
// drop dead images, request retransmission of surviving gaps, and report
// the consumption point back to the senders. Returns the amount of work
// done.
func (s *Subscription) DoWork(now time.Time) int {
	if s.closed.Load() {
		return 0
	}
	work := 0
	ports := s.portSnapshot()
	for _, port := range ports {
		// The local port identifies the transport path: with several
		// destinations merged, each counts as one path on its images.
		path := port.ID()
		work += port.Poll(func(_ uint64, frame []byte) {
			s.onFrame(path, frame)
		}, 256)
	}

	reportStatus := s.params.StatusInterval <= 0 || now.Sub(s.lastStatus) >= s.params.StatusInterval
	if reportStatus {
		s.lastStatus = now
	}
	for _, img := range s.Images() {
		nak, alive := img.tick(now)
		if !alive {
			s.dropImage(img)
			work++
			continue
		}
		if nak != nil {
			for _, port := range ports {
				port.Send(nak)
			}
			s.ctrNaksSent.Add(1)
			work++
		}
		if !reportStatus {
			continue
		}
		// Report the consumption point; the sender's group uses it for
		// pacing and receiver liveness. Paced by StatusInterval.
		termID, termOffset := img.consumptionPoint()
		sm := logbuffer.EncodeStatus(img.SessionID(), s.params.StreamID, termID, termOffset, logbuffer.StatusPayload{
			ReceiverID:  s.recvID,
			Window:      s.params.Window,
			ReceiverTag: s.receiverTag(),
			GroupTag:    s.groupTag(),
			HasGroupTag: s.hasGroupTag(),
		})
		for _, port := range ports {
			port.Send(sm)
		}
	}
	return work
}

func (s *Subscription) receiverTag() int64 {
	if s.params.Channel.HasReceiverTag {
		return s.params.Channel.ReceiverTag
	}
	return 0
}

func (s *Subscription) groupTag() int64 {
	if s.params.Channel.HasFlowControl && s.params.Channel.FlowControl.HasGroupTag {
		return s.params.Channel.FlowControl.GroupTag
	}
	// Fall back to the receiver tag so a tagged sender matches a
	// receiver that only declared rtag.
	if s.params.Channel.HasReceiverTag {
		return s.params.Channel.ReceiverTag
	}
	return 0
}

func (s *Subscription) hasGroupTag() bool {
	return (s.params.Channel.HasFlowControl && s.params.Channel.FlowControl.HasGroupTag) ||
		s.params.Channel.HasReceiverTag
}

func (s *Subscription) onFrame(path uint64, frame []byte) {
	h, body, err := logbuffer.ParseFrame(frame)
	if err != nil {
		s.logger.Warn("bad frame", log.Err(err))
		return
	}
	if h.StreamID != s.params.StreamID {
		return
	}
	switch h.Type {
	case logbuffer.TypeSetup:
		img := s.ImageBySession(h.SessionID)
		if img == nil {
			img = s.createImage(h, body)
			if img == nil {
				return
			}
		}
		img.refreshSource(path)
	case logbuffer.TypeData, logbuffer.TypePad:
		if img := s.ImageBySession(h.SessionID); img != nil {
			img.onFrame(path, h, frame)
		}
	case logbuffer.TypeHeartbeat:
		if img := s.ImageBySession(h.SessionID); img != nil {
			img.onHeartbeat(path, h)
		}
	}
}

// createImage materializes an image from a setup frame. The setup
// carries the sender's current tail, so a subscriber joining late (or
// re-subscribing) starts at the live edge rather than replaying history.
func (s *Subscription) createImage(h logbuffer.Header, body []byte) *Image {
	initialTermID, err := logbuffer.DecodeSetupInitialTermID(body)
	if err != nil {
		s.logger.Warn("bad setup frame", log.Err(err))
		return nil
	}
	termLength := int32(h.Reserved)
	bits := logbuffer.PositionBitsToShift(termLength)
	joinPosition := logbuffer.ComputePosition(h.TermID, h.TermOffset, bits, initialTermID)

	s.mu.Lock()
	s.imageSeq++
	correlation := s.params.Registration<<16 | s.imageSeq
	s.mu.Unlock()

	img, err := newImage(imageParams{
		sessionID:     h.SessionID,
		streamID:      h.StreamID,
		correlationID: correlation,
		termLength:    termLength,
		initialTermID: initialTermID,
		joinPosition:  joinPosition,
		imageTimeout:  s.params.ImageTimeout,
		filter:        s.filter,
		clk:           s.clk,
		registry:      s.params.Registry,
	})
	if err != nil {
		s.logger.Warn("image rejected", log.Err(err), log.Int("session", int(h.SessionID)))
		return nil
	}

	s.mu.Lock()
	if existing, ok := s.bySession[h.SessionID]; ok {
		// Raced with another setup for the same session.
		s.mu.Unlock()
		return existing
	}
	s.images = append(s.images, img)
	s.bySession[h.SessionID] = img
	s.mu.Unlock()

	// Force a status message this cycle so the sender connects without
	// waiting out the pacing interval.
	s.lastStatus = time.Time{}

	s.logger.Info("image created",
		log.Int("session", int(h.SessionID)),
		log.Int("stream", int(h.StreamID)),
		log.Int64("join_position", joinPosition))
	return img
}

func (s *Subscription) dropImage(img *Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.images {
		if cur == img {
			s.images = append(s.images[:i], s.images[i+1:]...)
			break
		}
	}
	delete(s.bySession, img.SessionID())
	s.logger.Info("image went unavailable",
		log.Int("session", int(img.SessionID())),
		log.Int64("position", img.Position()))
}
