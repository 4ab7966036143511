package transport

import (
	"bytes"
	"testing"
)

func drain(p *Port) [][]byte {
	var out [][]byte
	p.Poll(func(src uint64, frame []byte) {
		out = append(out, frame)
	}, 0) // zero max drains everything
	return out
}

func TestFanOutToSubscribers(t *testing.T) {
	n := NewNetwork()
	pub := n.Attach("alpha", RolePublish)
	sub1 := n.Attach("alpha", RoleSubscribe)
	sub2 := n.Attach("alpha", RoleSubscribe)

	if got := pub.Send([]byte("hello")); got != 2 {
		t.Fatalf("delivered to %d ports, want 2", got)
	}
	for i, s := range []*Port{sub1, sub2} {
		frames := drain(s)
		if len(frames) != 1 || !bytes.Equal(frames[0], []byte("hello")) {
			t.Fatalf("sub%d frames %q", i+1, frames)
		}
	}
}

func TestControlPathReachesPublisher(t *testing.T) {
	n := NewNetwork()
	pub := n.Attach("alpha", RolePublish)
	sub := n.Attach("alpha", RoleSubscribe)

	sub.Send([]byte("status"))
	var got []byte
	var src uint64
	pub.Poll(func(s uint64, frame []byte) {
		src = s
		got = frame
	}, 10)
	if !bytes.Equal(got, []byte("status")) {
		t.Fatalf("control frame %q", got)
	}
	if src != sub.ID() {
		t.Fatalf("source %d want %d", src, sub.ID())
	}
}

func TestEndpointsAreIsolated(t *testing.T) {
	n := NewNetwork()
	pub := n.Attach("alpha", RolePublish)
	other := n.Attach("beta", RoleSubscribe)

	pub.Send([]byte("x"))
	if got := len(drain(other)); got != 0 {
		t.Fatalf("frame leaked across endpoints: %d", got)
	}
}

func TestFilterDropsFrames(t *testing.T) {
	n := NewNetwork()
	pub := n.Attach("alpha", RolePublish)
	sub := n.Attach("alpha", RoleSubscribe)

	drop := true
	pub.SetFilter(func([]byte) bool { return !drop })
	if got := pub.Send([]byte("lost")); got != 0 {
		t.Fatalf("filtered frame delivered to %d", got)
	}
	drop = false
	pub.Send([]byte("kept"))
	frames := drain(sub)
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte("kept")) {
		t.Fatalf("frames %q", frames)
	}
}

func TestCloseDetaches(t *testing.T) {
	n := NewNetwork()
	pub := n.Attach("alpha", RolePublish)
	sub := n.Attach("alpha", RoleSubscribe)

	if pub.PeerCount() != 1 {
		t.Fatalf("peer count %d", pub.PeerCount())
	}
	sub.Close()
	if pub.PeerCount() != 0 {
		t.Fatalf("peer count after close %d", pub.PeerCount())
	}
	if got := pub.Send([]byte("x")); got != 0 {
		t.Fatalf("delivered to closed port: %d", got)
	}
}

func TestPollHonorsMax(t *testing.T) {
	n := NewNetwork()
	pub := n.Attach("alpha", RolePublish)
	sub := n.Attach("alpha", RoleSubscribe)
	for i := 0; i < 5; i++ {
		pub.Send([]byte{byte(i)})
	}
	if got := sub.Poll(func(uint64, []byte) {}, 2); got != 2 {
		t.Fatalf("polled %d want 2", got)
	}
	if got := sub.Poll(func(uint64, []byte) {}, 10); got != 3 {
		t.Fatalf("polled %d want 3", got)
	}
}
