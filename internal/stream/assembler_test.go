package stream

import (
	"bytes"
	"testing"

	"github.com/rzbill/weft/internal/logbuffer"
)

func feed(a *assembler, flags uint8, payload []byte, out *[][]byte) {
	h := logbuffer.Header{Flags: flags, Type: logbuffer.TypeData}
	a.onFrame(h, payload, func(msg []byte, _ logbuffer.Header) {
		*out = append(*out, append([]byte(nil), msg...))
	})
}

func TestAssemblerUnfragmented(t *testing.T) {
	var a assembler
	var out [][]byte
	feed(&a, logbuffer.FlagUnfragmented, []byte("whole"), &out)
	if len(out) != 1 || string(out[0]) != "whole" {
		t.Fatalf("delivered %q, want [whole]", out)
	}
}

func TestAssemblerReassemblesFragments(t *testing.T) {
	var a assembler
	var out [][]byte
	feed(&a, logbuffer.FlagBegin, []byte("aaa"), &out)
	feed(&a, 0, []byte("bbb"), &out)
	feed(&a, logbuffer.FlagEnd, []byte("ccc"), &out)
	if len(out) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(out))
	}
	if !bytes.Equal(out[0], []byte("aaabbbccc")) {
		t.Fatalf("reassembled %q, want aaabbbccc", out[0])
	}
}

func TestAssemblerDropsTailFromBeforeJoin(t *testing.T) {
	var a assembler
	var out [][]byte
	// Middle and end of a message whose BEGIN was never seen.
	feed(&a, 0, []byte("orphan-middle"), &out)
	feed(&a, logbuffer.FlagEnd, []byte("orphan-end"), &out)
	if len(out) != 0 {
		t.Fatalf("delivered %q, want nothing", out)
	}
	// A fresh message afterwards still comes through intact.
	feed(&a, logbuffer.FlagBegin, []byte("x"), &out)
	feed(&a, logbuffer.FlagEnd, []byte("y"), &out)
	if len(out) != 1 || string(out[0]) != "xy" {
		t.Fatalf("delivered %q, want [xy]", out)
	}
}

func TestAssemblerBeginResetsPartialState(t *testing.T) {
	var a assembler
	var out [][]byte
	feed(&a, logbuffer.FlagBegin, []byte("stale"), &out)
	// Sender restarted the message: a new BEGIN discards the old prefix.
	feed(&a, logbuffer.FlagBegin, []byte("fresh-"), &out)
	feed(&a, logbuffer.FlagEnd, []byte("end"), &out)
	if len(out) != 1 || string(out[0]) != "fresh-end" {
		t.Fatalf("delivered %q, want [fresh-end]", out)
	}
}
