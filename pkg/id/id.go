// Package id generates the registration and correlation identifiers used
// to track publications, subscriptions, and images across their
// lifecycle.
package id

import (
	"sync"
	"time"
)

// Generator produces strictly increasing 64-bit identifiers per process.
// The value encodes a millisecond timestamp in the high bits and a
// per-millisecond sequence in the low 20 bits, so ids sort by creation
// time.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence int64
}

const sequenceBits = 20

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next identifier. Safe for concurrent use.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := time.Now().UnixMilli()
	if ms < g.lastMs {
		ms = g.lastMs // clock went backwards; hold the last millisecond
	}
	if ms == g.lastMs {
		g.sequence++
		if g.sequence >= 1<<sequenceBits {
			// sequence exhausted within one millisecond; borrow the next
			g.lastMs++
			g.sequence = 0
		}
	} else {
		g.lastMs = ms
		g.sequence = 0
	}
	return g.lastMs<<sequenceBits | g.sequence
}
