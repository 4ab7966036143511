package logbuffer

import (
	"bytes"
	"errors"
	"testing"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := NewLog(Settings{TermLength: TermMinLength, SessionID: 1, StreamID: 10})
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	return l
}

func scanFrames(t *testing.T, l *Log, from int64) []Header {
	t.Helper()
	var out []Header
	l.Scan(from, 1<<30, func(frame []byte) {
		h, _, err := ParseFrame(frame)
		if err != nil {
			t.Fatalf("parse scanned frame: %v", err)
		}
		out = append(out, h)
	})
	return out
}

func TestAppendAdvancesPosition(t *testing.T) {
	l := newTestLog(t)
	p1, err := l.Append(FlagUnfragmented, 0, []byte("one"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	p2, err := l.Append(FlagUnfragmented, 0, []byte("two"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !(p1 < p2) {
		t.Fatalf("positions must increase: %d %d", p1, p2)
	}
	if l.Position() != p2 {
		t.Fatalf("tail position %d want %d", l.Position(), p2)
	}
}

func TestInvalidTermLengthRejected(t *testing.T) {
	for _, n := range []int32{0, 1000, TermMinLength - 1, TermMinLength + 1} {
		if _, err := NewLog(Settings{TermLength: n}); !errors.Is(err, ErrInvalidTermLength) {
			t.Fatalf("term length %d: want ErrInvalidTermLength, got %v", n, err)
		}
	}
}

func TestRotationPadsRemainder(t *testing.T) {
	l := newTestLog(t)
	big := make([]byte, 40000-int(HeaderLength)) // aligned frame of 40000 bytes
	if _, err := l.Append(FlagUnfragmented, 0, big); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := l.Append(FlagUnfragmented, 0, big); !errors.Is(err, ErrRotated) {
		t.Fatalf("want ErrRotated, got %v", err)
	}
	pos, err := l.Append(FlagUnfragmented, 0, big)
	if err != nil {
		t.Fatalf("append after rotation: %v", err)
	}
	wantPos := int64(TermMinLength) + 40000
	if pos != wantPos {
		t.Fatalf("position after rotation %d want %d", pos, wantPos)
	}

	frames := scanFrames(t, l, 0)
	if len(frames) != 3 {
		t.Fatalf("want 3 frames, got %d", len(frames))
	}
	pad := frames[1]
	if pad.Type != TypePad {
		t.Fatalf("second frame should be padding, got type %d", pad.Type)
	}
	if pad.Length != TermMinLength-40000 {
		t.Fatalf("pad length %d want %d", pad.Length, TermMinLength-40000)
	}
	if frames[2].TermID != 1 || frames[2].TermOffset != 0 {
		t.Fatalf("third frame should start term 1: %+v", frames[2])
	}
}

func TestHeaderOnlyPadAtTermEnd(t *testing.T) {
	l := newTestLog(t)
	// Leave exactly one alignment unit free at the end of the term.
	payload := make([]byte, int(TermMinLength-FrameAlignment-HeaderLength))
	if _, err := l.Append(FlagUnfragmented, 0, payload); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(FlagUnfragmented, 0, []byte("next")); !errors.Is(err, ErrRotated) {
		t.Fatalf("want ErrRotated, got %v", err)
	}
	frames := scanFrames(t, l, 0)
	if len(frames) != 2 {
		t.Fatalf("want 2 frames, got %d", len(frames))
	}
	pad := frames[1]
	if pad.Type != TypePad || pad.Length != HeaderLength {
		t.Fatalf("want bare header pad, got type=%d length=%d", pad.Type, pad.Length)
	}
}

func TestTryClaimCommit(t *testing.T) {
	l := newTestLog(t)
	var c Claim
	pos, err := l.TryClaim(5, &c)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Uncommitted claims must stay invisible to readers.
	if got := scanFrames(t, l, 0); len(got) != 0 {
		t.Fatalf("claimed frame visible before commit: %d frames", len(got))
	}
	copy(c.Buffer(), "claim")
	if err := c.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := c.Commit(); err == nil {
		t.Fatalf("double commit should fail")
	}
	var payload []byte
	l.Scan(0, 1<<30, func(frame []byte) {
		_, body, err := ParseFrame(frame)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		payload = append([]byte(nil), body...)
	})
	if !bytes.Equal(payload, []byte("claim")) {
		t.Fatalf("payload %q", payload)
	}
	if pos <= 0 {
		t.Fatalf("claim position %d", pos)
	}
}

func TestTryClaimAbortBecomesPadding(t *testing.T) {
	l := newTestLog(t)
	var c Claim
	if _, err := l.TryClaim(100, &c); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := c.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	frames := scanFrames(t, l, 0)
	if len(frames) != 1 || frames[0].Type != TypePad {
		t.Fatalf("aborted claim should read back as padding: %+v", frames)
	}
}

func TestScanStopsAtUncommitted(t *testing.T) {
	l := newTestLog(t)
	if _, err := l.Append(FlagUnfragmented, 0, []byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	var c Claim
	if _, err := l.TryClaim(10, &c); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := l.Append(FlagUnfragmented, 0, []byte("b")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := len(scanFrames(t, l, 0)); got != 1 {
		t.Fatalf("scan should stop at uncommitted claim, got %d frames", got)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := len(scanFrames(t, l, 0)); got != 3 {
		t.Fatalf("after commit want 3 frames, got %d", got)
	}
}

func TestMaxPosition(t *testing.T) {
	l := newTestLog(t)
	if l.MaxPosition() != int64(TermMinLength)<<31 {
		t.Fatalf("max position %d", l.MaxPosition())
	}
}
