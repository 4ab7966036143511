// Package flowcontrol computes the position limit a publication may write
// to from the status feedback of its receivers.
//
// # Overview
//
// A Group tracks per-receiver consumption positions and last-seen times.
// Its policy is a tagged variant rather than an interface: unicast (single
// receiver window), multicast-min (minimum over live receivers), or tagged
// multicast (minimum over receivers carrying a matching group tag, with an
// optional minimum group size gating admission). One recomputation runs on
// every status message and on every liveness tick, so eviction takes
// effect immediately rather than on the next periodic pass.
//
// The published limit is monotonic non-decreasing except across an
// eviction recomputation, and never drops below the sender's already
// advanced position floor.
package flowcontrol
