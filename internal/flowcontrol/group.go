package flowcontrol

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Mode selects the receiver-limit computation.
type Mode int

const (
	ModeUnicast Mode = iota
	ModeMinMulticast
	ModeTagged
)

func (m Mode) String() string {
	switch m {
	case ModeUnicast:
		return "unicast"
	case ModeMinMulticast:
		return "min"
	case ModeTagged:
		return "tagged"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Policy configures a Group. GroupTag and MinGroupSize only apply in
// ModeTagged; a zero MinGroupSize means one receiver suffices.
type Policy struct {
	Mode            Mode
	GroupTag        int64
	HasGroupTag     bool
	MinGroupSize    int
	ReceiverTimeout time.Duration
}

// DefaultReceiverTimeout is applied when a policy leaves the liveness
// timeout unset.
const DefaultReceiverTimeout = 2 * time.Second

func (p Policy) requiredReceivers() int {
	if p.Mode == ModeTagged && p.MinGroupSize > 0 {
		return p.MinGroupSize
	}
	return 1
}

func (p Policy) timeout() time.Duration {
	if p.ReceiverTimeout > 0 {
		return p.ReceiverTimeout
	}
	return DefaultReceiverTimeout
}

// Status is one receiver's reported consumption point.
type Status struct {
	ReceiverID  uint64
	Position    int64
	Window      int32
	ReceiverTag int64
	GroupTag    int64
	HasGroupTag bool
}

type receiverState struct {
	id        uint64
	position  int64
	windowEnd int64
	eligible  bool
	lastSeen  time.Time
}

// Group is the flow-control state for one publication. Status ingestion
// and liveness ticks mutate it under a lock; the computed limit and
// connection flag are published atomically so the offer path reads them
// without locking and never observes a torn recomputation.
type Group struct {
	policy Policy
	clk    clock.Clock

	mu        sync.Mutex
	receivers map[uint64]*receiverState

	limit       atomic.Int64
	senderBound atomic.Int64
	connected   atomic.Bool
}

// NewGroup builds an empty Group; the publication starts not connected.
func NewGroup(policy Policy, clk clock.Clock) *Group {
	if clk == nil {
		clk = clock.New()
	}
	return &Group{policy: policy, clk: clk, receivers: make(map[uint64]*receiverState)}
}

// Policy returns the configured policy.
func (g *Group) Policy() Policy { return g.policy }

// Limit returns the highest position the publication may currently write
// to.
func (g *Group) Limit() int64 { return g.limit.Load() }

// SenderBound is the minimum window end over all live receivers,
// independent of group admission. Operational tooling reads it to spot
// slow-receiver stalls.
func (g *Group) SenderBound() int64 { return g.senderBound.Load() }

// IsConnected reports whether enough eligible receivers are present for
// the publication to be admitted.
func (g *Group) IsConnected() bool { return g.connected.Load() }

// ReceiverCount returns the number of live receivers, eligible or not.
func (g *Group) ReceiverCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.receivers)
}

func (g *Group) eligible(s Status) bool {
	if g.policy.Mode != ModeTagged || !g.policy.HasGroupTag {
		return true
	}
	return s.HasGroupTag && s.GroupTag == g.policy.GroupTag
}

// OnStatus ingests one status message and recomputes the limit. The
// sender position is the floor the limit may never fall below.
func (g *Group) OnStatus(s Status, senderPosition int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.receivers[s.ReceiverID]
	if !ok {
		r = &receiverState{id: s.ReceiverID}
		g.receivers[s.ReceiverID] = r
	}
	if s.Position > r.position {
		r.position = s.Position
	}
	if end := s.Position + int64(s.Window); end > r.windowEnd {
		r.windowEnd = end
	}
	r.eligible = g.eligible(s)
	r.lastSeen = g.clk.Now()

	g.recompute(senderPosition, false)
	return g.limit.Load()
}

// Tick evicts receivers not heard from within the liveness timeout and
// recomputes immediately. It returns the number of evicted receivers.
func (g *Group) Tick(senderPosition int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()
	evicted := 0
	for id, r := range g.receivers {
		if now.Sub(r.lastSeen) > g.policy.timeout() {
			delete(g.receivers, id)
			evicted++
		}
	}
	g.recompute(senderPosition, evicted > 0)
	return evicted
}

// recompute derives the limit, sender bound, and connection flag from the
// current receivers. Called with the lock held. After an eviction the
// limit may step down, but never below the sender position floor;
// otherwise it is monotonic non-decreasing.
func (g *Group) recompute(senderPosition int64, afterEviction bool) {
	var (
		minEligible int64
		minAll      int64
		nEligible   int
		nAll        int
	)
	for _, r := range g.receivers {
		if nAll == 0 || r.windowEnd < minAll {
			minAll = r.windowEnd
		}
		nAll++
		if !r.eligible {
			continue
		}
		if nEligible == 0 || r.windowEnd < minEligible {
			minEligible = r.windowEnd
		}
		nEligible++
	}

	g.senderBound.Store(minAll)

	if nEligible < g.policy.requiredReceivers() {
		// Below the admission threshold the publication reverts to not
		// connected; the limit holds at its floor.
		g.connected.Store(false)
		if afterEviction {
			cur := g.limit.Load()
			if senderPosition > cur {
				g.limit.Store(senderPosition)
			}
		}
		return
	}

	newLimit := minEligible
	if newLimit < senderPosition {
		newLimit = senderPosition
	}
	if !afterEviction {
		if cur := g.limit.Load(); newLimit < cur {
			newLimit = cur
		}
	}
	g.limit.Store(newLimit)
	g.connected.Store(true)
}
