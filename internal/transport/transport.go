// Package transport is the in-process fabric the core sends and receives
// frames over. The wire sockets themselves are outside the transport
// core; this fabric supplies the assumed non-blocking send/receive
// primitives: named endpoints, fan-out from the publish side to every
// attached subscriber port, and a reverse path for status and NAK frames.
//
// Ports are polled, never callback-driven, and an outbound filter hook
// lets tests inject deterministic loss.
package transport

import (
	"sync"
)

// Role fixes the direction a port participates in on its endpoint.
type Role int

const (
	// RolePublish sends data frames and receives control frames.
	RolePublish Role = iota
	// RoleSubscribe receives data frames and sends control frames.
	RoleSubscribe
)

type inbound struct {
	src   uint64
	frame []byte
}

// Network is the set of named endpoints of one node.
type Network struct {
	mu         sync.Mutex
	endpoints  map[string]*endpoint
	nextPortID uint64
}

type endpoint struct {
	name string
	pubs map[uint64]*Port
	subs map[uint64]*Port
}

// NewNetwork builds an empty fabric.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*endpoint)}
}

// Attach binds a new port to the named endpoint.
func (n *Network) Attach(endpointName string, role Role) *Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[endpointName]
	if !ok {
		ep = &endpoint{name: endpointName, pubs: make(map[uint64]*Port), subs: make(map[uint64]*Port)}
		n.endpoints[endpointName] = ep
	}
	n.nextPortID++
	p := &Port{id: n.nextPortID, net: n, ep: ep, role: role}
	if role == RolePublish {
		ep.pubs[p.id] = p
	} else {
		ep.subs[p.id] = p
	}
	return p
}

// Port is one attachment to an endpoint: an outbound frame sink and an
// inbound poll queue.
type Port struct {
	id   uint64
	net  *Network
	ep   *endpoint
	role Role

	mu     sync.Mutex
	queue  []inbound
	filter func(frame []byte) bool
	closed bool
}

// ID returns the fabric-unique port id.
func (p *Port) ID() uint64 { return p.id }

// Endpoint returns the endpoint name this port is bound to.
func (p *Port) Endpoint() string { return p.ep.name }

// SetFilter installs an outbound filter; frames for which it returns
// false are dropped before delivery. Used to inject loss in tests.
func (p *Port) SetFilter(fn func(frame []byte) bool) {
	p.mu.Lock()
	p.filter = fn
	p.mu.Unlock()
}

// Send delivers a copy of frame to every port on the opposite side of
// the endpoint. It returns the number of ports reached and never blocks.
func (p *Port) Send(frame []byte) int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	filter := p.filter
	p.mu.Unlock()
	if filter != nil && !filter(frame) {
		return 0
	}

	p.net.mu.Lock()
	targets := p.ep.subs
	if p.role == RoleSubscribe {
		targets = p.ep.pubs
	}
	snapshot := make([]*Port, 0, len(targets))
	for _, t := range targets {
		snapshot = append(snapshot, t)
	}
	p.net.mu.Unlock()

	// Each receiver gets its own copy: the source frame may live in a
	// term buffer that is later recycled.
	delivered := 0
	for _, t := range snapshot {
		cp := append([]byte(nil), frame...)
		t.mu.Lock()
		if !t.closed {
			t.queue = append(t.queue, inbound{src: p.id, frame: cp})
			delivered++
		}
		t.mu.Unlock()
	}
	return delivered
}

// Poll drains up to max inbound frames (all of them when max <= 0),
// invoking fn with the sending port id and the frame bytes. It returns
// the number of frames handled and never blocks.
func (p *Port) Poll(fn func(src uint64, frame []byte), max int) int {
	p.mu.Lock()
	n := len(p.queue)
	if max > 0 && n > max {
		n = max
	}
	batch := p.queue[:n]
	p.queue = p.queue[n:]
	p.mu.Unlock()

	for _, in := range batch {
		fn(in.src, in.frame)
	}
	return n
}

// PeerCount returns the number of ports on the opposite side of the
// endpoint.
func (p *Port) PeerCount() int {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	if p.role == RolePublish {
		return len(p.ep.subs)
	}
	return len(p.ep.pubs)
}

// Close detaches the port; pending inbound frames are discarded.
func (p *Port) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.queue = nil
	p.mu.Unlock()

	p.net.mu.Lock()
	delete(p.ep.pubs, p.id)
	delete(p.ep.subs, p.id)
	p.net.mu.Unlock()
}
