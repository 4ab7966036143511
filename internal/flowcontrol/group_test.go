package flowcontrol

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const window = 64 * 1024

func TestUnicastLimitFollowsReceiver(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{Mode: ModeUnicast}, mock)

	require.False(t, g.IsConnected())
	require.EqualValues(t, 0, g.Limit())

	limit := g.OnStatus(Status{ReceiverID: 1, Position: 100, Window: window}, 0)
	require.EqualValues(t, 100+window, limit)
	require.True(t, g.IsConnected())

	limit = g.OnStatus(Status{ReceiverID: 1, Position: 5000, Window: window}, 0)
	require.EqualValues(t, 5000+window, limit)
}

func TestLimitIsMonotonicWithoutEviction(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{Mode: ModeMinMulticast}, mock)

	g.OnStatus(Status{ReceiverID: 1, Position: 10000, Window: window}, 0)
	before := g.Limit()
	// A receiver reporting behind the floor must not pull the limit back.
	after := g.OnStatus(Status{ReceiverID: 1, Position: 50, Window: 10}, 0)
	require.Equal(t, before, after)
}

func TestMinMulticastTakesSlowestReceiver(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{Mode: ModeMinMulticast}, mock)

	g.OnStatus(Status{ReceiverID: 1, Position: 9000, Window: window}, 0)
	limit := g.OnStatus(Status{ReceiverID: 2, Position: 1000, Window: window}, 0)
	// The second receiver is slower, but the limit never decreases while
	// both stay live.
	require.EqualValues(t, 9000+window, limit)
	require.Equal(t, 2, g.ReceiverCount())

	// Once the slow receiver is evicted the fast one bounds the limit again.
	mock.Add(DefaultReceiverTimeout + time.Millisecond)
	g.OnStatus(Status{ReceiverID: 1, Position: 9000, Window: window}, 0)
	evicted := g.Tick(0)
	require.Equal(t, 1, evicted)
	require.True(t, g.IsConnected())
}

func TestEvictionRecomputesImmediately(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{Mode: ModeMinMulticast}, mock)

	g.OnStatus(Status{ReceiverID: 1, Position: 100, Window: window}, 0)
	mock.Add(DefaultReceiverTimeout + time.Millisecond)
	evicted := g.Tick(50)
	require.Equal(t, 1, evicted)
	require.False(t, g.IsConnected())
	// After losing the last receiver the limit holds at the sender floor.
	require.EqualValues(t, 100+window, g.Limit())
	require.Equal(t, 0, g.ReceiverCount())
}

func TestEvictionNeverDropsLimitBelowFloor(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{Mode: ModeMinMulticast}, mock)

	g.OnStatus(Status{ReceiverID: 1, Position: 100000, Window: window}, 0)
	g.OnStatus(Status{ReceiverID: 2, Position: 100000, Window: window}, 0)
	mock.Add(DefaultReceiverTimeout + time.Millisecond)
	// Receiver 2 refreshes with a position behind the sender floor; its
	// window end from the first report is retained.
	g.OnStatus(Status{ReceiverID: 2, Position: 10, Window: 10}, 90000)
	require.Equal(t, 1, g.Tick(90000))
	require.EqualValues(t, 100000+window, g.Limit())
	require.True(t, g.Limit() >= 90000, "limit never falls below the sender floor")
}

func TestTaggedGroupGatesOnMinimumSize(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{
		Mode:         ModeTagged,
		GroupTag:     100,
		HasGroupTag:  true,
		MinGroupSize: 2,
	}, mock)

	tagged := func(id uint64, pos int64) Status {
		return Status{ReceiverID: id, Position: pos, Window: window, GroupTag: 100, HasGroupTag: true}
	}

	g.OnStatus(tagged(1, 500), 0)
	require.False(t, g.IsConnected(), "one tagged receiver is below the minimum")

	// Receivers with the wrong tag or no tag never count.
	g.OnStatus(Status{ReceiverID: 9, Position: 500, Window: window, GroupTag: 7, HasGroupTag: true}, 0)
	g.OnStatus(Status{ReceiverID: 10, Position: 500, Window: window}, 0)
	require.False(t, g.IsConnected())

	g.OnStatus(tagged(2, 300), 0)
	require.True(t, g.IsConnected(), "second tagged receiver meets the minimum")
	require.EqualValues(t, 300+window, g.Limit())
}

func TestTaggedGroupRevertsBelowMinimum(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{
		Mode:            ModeTagged,
		GroupTag:        100,
		HasGroupTag:     true,
		MinGroupSize:    2,
		ReceiverTimeout: 500 * time.Millisecond,
	}, mock)

	g.OnStatus(Status{ReceiverID: 1, Position: 0, Window: window, GroupTag: 100, HasGroupTag: true}, 0)
	g.OnStatus(Status{ReceiverID: 2, Position: 0, Window: window, GroupTag: 100, HasGroupTag: true}, 0)
	require.True(t, g.IsConnected())

	// Only receiver 1 keeps reporting; receiver 2 times out.
	mock.Add(300 * time.Millisecond)
	g.OnStatus(Status{ReceiverID: 1, Position: 64, Window: window, GroupTag: 100, HasGroupTag: true}, 0)
	mock.Add(300 * time.Millisecond)
	require.Equal(t, 1, g.Tick(0))
	require.False(t, g.IsConnected(), "losing a receiver below the minimum disconnects, not merely slows")

	// A re-joining receiver restores the group from the current membership.
	g.OnStatus(Status{ReceiverID: 3, Position: 64, Window: window, GroupTag: 100, HasGroupTag: true}, 0)
	require.True(t, g.IsConnected())
}

func TestSenderBoundIgnoresGroupAdmission(t *testing.T) {
	mock := clock.NewMock()
	g := NewGroup(Policy{
		Mode:         ModeTagged,
		GroupTag:     100,
		HasGroupTag:  true,
		MinGroupSize: 3,
	}, mock)

	g.OnStatus(Status{ReceiverID: 1, Position: 1000, Window: window, GroupTag: 100, HasGroupTag: true}, 0)
	require.False(t, g.IsConnected())
	require.EqualValues(t, 1000+window, g.SenderBound(), "sender bound is observable even while not admitted")
}
