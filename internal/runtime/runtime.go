package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/rzbill/weft/internal/channel"
	cfgpkg "github.com/rzbill/weft/internal/config"
	"github.com/rzbill/weft/internal/counters"
	"github.com/rzbill/weft/internal/flowcontrol"
	"github.com/rzbill/weft/internal/stream"
	"github.com/rzbill/weft/internal/transport"
	"github.com/rzbill/weft/pkg/id"
	"github.com/rzbill/weft/pkg/idle"
	"github.com/rzbill/weft/pkg/log"
)

// ErrClosed is returned when a closed node is asked for new streams.
var ErrClosed = errors.New("runtime: node is closed")

// Options for building the Node.
type Options struct {
	Config cfgpkg.Config

	// Logger defaults to a no-op logger.
	Logger log.Logger
	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// Node wires the fabric, counters, and streams of a single instance.
type Node struct {
	config cfgpkg.Config
	logger log.Logger
	clk    clock.Clock
	net    *transport.Network
	reg    *counters.Registry
	idgen  *id.Generator

	mu            sync.Mutex
	pubs          []*stream.Publication
	subs          []*stream.Subscription
	shared        map[sharedKey]*stream.Publication
	nextSessionID int32

	closed atomic.Bool
}

// sharedKey identifies a shareable publication: same channel addressing,
// same stream.
type sharedKey struct {
	channel  uint64
	streamID int32
}

// Open validates the configuration and returns a ready Node.
func Open(opts Options) (*Node, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Node{
		config: opts.Config,
		logger: logger.WithComponent("runtime"),
		clk:    clk,
		net:    transport.NewNetwork(),
		reg:    counters.NewRegistry(),
		idgen:  id.NewGenerator(),
		shared: make(map[sharedKey]*stream.Publication),
	}, nil
}

// Counters returns the node's counter registry.
func (n *Node) Counters() *counters.Registry { return n.reg }

// Config returns the node configuration.
func (n *Node) Config() cfgpkg.Config { return n.config }

// AddPublication returns a publication on the channel and stream,
// reusing an existing shared publication for the same addressing. The
// returned publication is immediately usable; connectivity follows from
// the duty cycle.
func (n *Node) AddPublication(uri string, streamID int32) (*stream.Publication, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	ch, err := channel.Parse(uri)
	if err != nil {
		return nil, err
	}
	key := sharedKey{channel: ch.Key(), streamID: streamID}
	n.mu.Lock()
	if pub, ok := n.shared[key]; ok && !pub.IsClosed() {
		n.mu.Unlock()
		return pub, nil
	}
	n.mu.Unlock()

	pub, err := n.newPublication(ch, streamID, false)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.shared[key] = pub
	n.mu.Unlock()
	return pub, nil
}

// AddExclusivePublication always creates a new publication with its own
// session identity.
func (n *Node) AddExclusivePublication(uri string, streamID int32) (*stream.Publication, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	ch, err := channel.Parse(uri)
	if err != nil {
		return nil, err
	}
	return n.newPublication(ch, streamID, true)
}

func (n *Node) newPublication(ch channel.Channel, streamID int32, exclusive bool) (*stream.Publication, error) {
	termLength := n.config.TermBufferLength
	if ch.HasTermLength {
		termLength = ch.TermLength
	}
	policy := flowcontrol.Policy{Mode: flowcontrol.ModeUnicast, ReceiverTimeout: n.config.ReceiverTimeout.D()}
	if ch.HasFlowControl {
		policy = ch.FlowControl
		if policy.ReceiverTimeout == 0 {
			policy.ReceiverTimeout = n.config.ReceiverTimeout.D()
		}
	}

	n.mu.Lock()
	n.nextSessionID++
	sessionID := n.nextSessionID
	n.mu.Unlock()

	pub, err := stream.NewPublication(stream.PublicationParams{
		Channel:           ch,
		StreamID:          streamID,
		SessionID:         sessionID,
		Registration:      n.idgen.Next(),
		Exclusive:         exclusive,
		TermLength:        termLength,
		MaxPayload:        n.config.MaxPayload(),
		MaxMessage:        n.config.MaxMessage(termLength),
		HeartbeatInterval: n.config.HeartbeatInterval.D(),
		Network:           n.net,
		Group:             flowcontrol.NewGroup(policy, n.clk),
		Registry:          n.reg,
		Logger:            n.logger,
	})
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.pubs = append(n.pubs, pub)
	n.mu.Unlock()
	n.logger.Info("publication added",
		log.Str("channel", ch.URI),
		log.Int("stream", int(streamID)),
		log.Int("session", int(sessionID)))
	return pub, nil
}

// SubOption customizes a subscription.
type SubOption func(*subOptions)

type subOptions struct {
	filter string
}

// WithFilter gates delivery on a CEL expression over session, stream,
// position, size, and text.
func WithFilter(expr string) SubOption {
	return func(o *subOptions) { o.filter = expr }
}

// AddSubscription creates a subscription on the channel and stream.
func (n *Node) AddSubscription(uri string, streamID int32, opts ...SubOption) (*stream.Subscription, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	ch, err := channel.Parse(uri)
	if err != nil {
		return nil, err
	}
	var so subOptions
	for _, opt := range opts {
		opt(&so)
	}
	sub, err := stream.NewSubscription(stream.SubscriptionParams{
		Channel:        ch,
		StreamID:       streamID,
		Registration:   n.idgen.Next(),
		Window:         n.config.ReceiverWindow,
		ImageTimeout:   n.config.ImageTimeout.D(),
		StatusInterval: n.config.StatusInterval.D(),
		Filter:         so.filter,
		Network:        n.net,
		Registry:       n.reg,
		Clock:          n.clk,
		Logger:         n.logger,
	})
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	n.logger.Info("subscription added",
		log.Str("channel", ch.URI),
		log.Int("stream", int(streamID)))
	return sub, nil
}

// DoWork runs one duty cycle over every stream and returns the amount of
// work done.
func (n *Node) DoWork() int {
	if n.closed.Load() {
		return 0
	}
	n.mu.Lock()
	pubs := append([]*stream.Publication(nil), n.pubs...)
	subs := append([]*stream.Subscription(nil), n.subs...)
	n.mu.Unlock()

	now := n.clk.Now()
	work := 0
	for _, pub := range pubs {
		work += pub.DoWork(now)
	}
	for _, sub := range subs {
		work += sub.DoWork(now)
	}
	return work
}

// Run drives the duty cycle until the context is done, idling per the
// strategy when a cycle produces no work.
func (n *Node) Run(ctx context.Context, strategy idle.Strategy) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		strategy.Idle(n.DoWork())
		if n.closed.Load() {
			return nil
		}
	}
}

// Close closes every stream and stops the duty cycle. Idempotent.
func (n *Node) Close() {
	if !n.closed.CompareAndSwap(false, true) {
		return
	}
	n.mu.Lock()
	pubs := n.pubs
	subs := n.subs
	n.pubs = nil
	n.subs = nil
	n.shared = make(map[sharedKey]*stream.Publication)
	n.mu.Unlock()
	for _, pub := range pubs {
		pub.Close()
	}
	for _, sub := range subs {
		sub.Close()
	}
	n.logger.Info("node closed")
}
