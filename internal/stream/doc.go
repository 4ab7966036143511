// Package stream holds the publication and subscription halves of the
// transport core.
//
// # Overview
//
// A Publication writes frames into its segmented log (offer or zero-copy
// claim) and is admitted or throttled by its flow-control group. Its
// sender side pumps committed frames onto the transport fabric, answers
// NAKs from its retained terms, and announces itself with setup and
// heartbeat frames.
//
// A Subscription manages the images of one stream. Each Image reassembles
// one session's frames in position order, merging arrivals from any
// number of transport paths exactly once, detecting gaps, and requesting
// retransmission. Polling aggregates fragments across images and hands
// whole messages to the application callback, optionally filtered by a
// CEL expression.
//
// Nothing here blocks: offers, claims, polls, and work ticks all return
// immediately and callers drive progress with an idle strategy of their
// choosing.
package stream
