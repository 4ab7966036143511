// Package idle provides the back-off strategies callers plug into poll
// loops. Nothing in the transport core blocks; suspension happens only
// here, between polls, at the caller's discretion.
package idle

import (
	"runtime"
	"time"
)

// Strategy decides what to do after a unit of work. workCount is the
// amount of work the last cycle performed; zero means idle.
type Strategy interface {
	Idle(workCount int)
}

// BusySpin never yields. Lowest latency, one core pinned.
type BusySpin struct{}

func (BusySpin) Idle(int) {}

// Yield cedes the processor when no work was done.
type Yield struct{}

func (Yield) Idle(workCount int) {
	if workCount == 0 {
		runtime.Gosched()
	}
}

// Sleeping sleeps a fixed period when no work was done.
type Sleeping struct {
	Period time.Duration
}

func (s Sleeping) Idle(workCount int) {
	if workCount == 0 {
		time.Sleep(s.Period)
	}
}

// Backoff yields first, then sleeps doubling periods between Min and Max
// while the loop stays idle, resetting as soon as work appears.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	current time.Duration
	yields  int
}

const backoffYieldLimit = 10

func (b *Backoff) Idle(workCount int) {
	if workCount > 0 {
		b.current = 0
		b.yields = 0
		return
	}
	if b.yields < backoffYieldLimit {
		b.yields++
		runtime.Gosched()
		return
	}
	if b.current == 0 {
		b.current = b.Min
	} else if b.current < b.Max {
		b.current *= 2
		if b.current > b.Max {
			b.current = b.Max
		}
	}
	time.Sleep(b.current)
}
