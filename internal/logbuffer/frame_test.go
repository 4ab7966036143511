package logbuffer

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	payload := []byte("hello frames")
	f := EncodeFrame(Header{
		Flags:     FlagUnfragmented,
		Type:      TypeData,
		SessionID: 7,
		StreamID:  1001,
		TermID:    3,
		Reserved:  42,
	}, payload)
	if int32(len(f))%FrameAlignment != 0 {
		t.Fatalf("frame not aligned: %d", len(f))
	}
	h, body, err := ParseFrame(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.SessionID != 7 || h.StreamID != 1001 || h.TermID != 3 || h.Reserved != 42 {
		t.Fatalf("header mismatch: %+v", h)
	}
	if h.Length != HeaderLength+int32(len(payload)) {
		t.Fatalf("length mismatch: %d", h.Length)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("payload mismatch: %q", body)
	}
}

func TestParseRejectsZeroLength(t *testing.T) {
	f := make([]byte, FrameAlignment)
	if _, _, err := ParseFrame(f); !errors.Is(err, ErrZeroLength) {
		t.Fatalf("want ErrZeroLength, got %v", err)
	}
}

func TestParseRejectsShortFrame(t *testing.T) {
	if _, _, err := ParseFrame(make([]byte, 8)); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("want ErrShortFrame, got %v", err)
	}
}

func TestAlign(t *testing.T) {
	cases := map[int32]int32{0: 0, 1: 32, 32: 32, 33: 64, 100: 128}
	for in, want := range cases {
		if got := Align(in); got != want {
			t.Fatalf("Align(%d)=%d want %d", in, got, want)
		}
	}
}

func TestStatusRoundTrip(t *testing.T) {
	f := EncodeStatus(5, 10, 2, 4096, StatusPayload{
		ReceiverID:  99,
		Window:      128 * 1024,
		ReceiverTag: 7,
		GroupTag:    100,
		HasGroupTag: true,
	})
	h, body, err := ParseFrame(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.Type != TypeStatus || h.TermID != 2 || h.TermOffset != 4096 {
		t.Fatalf("header mismatch: %+v", h)
	}
	p, err := DecodeStatus(body)
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if p.ReceiverID != 99 || p.Window != 128*1024 || p.ReceiverTag != 7 || p.GroupTag != 100 || !p.HasGroupTag {
		t.Fatalf("status mismatch: %+v", p)
	}
}

func TestNakCarriesExtent(t *testing.T) {
	f := EncodeNak(1, 2, 3, 64, 256)
	h, _, err := ParseFrame(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.Type != TypeNak || h.TermID != 3 || h.TermOffset != 64 || h.Reserved != 256 {
		t.Fatalf("nak mismatch: %+v", h)
	}
}

func TestSetupCarriesGeometry(t *testing.T) {
	f := EncodeSetup(1, 2, 8, 512, 64*1024, 5)
	h, body, err := ParseFrame(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.Type != TypeSetup || h.Reserved != 64*1024 {
		t.Fatalf("setup mismatch: %+v", h)
	}
	initial, err := DecodeSetupInitialTermID(body)
	if err != nil || initial != 5 {
		t.Fatalf("initial term id: %d %v", initial, err)
	}
}
