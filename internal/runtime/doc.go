// Package runtime wires the transport core into a single-node instance:
// one fabric, one counter registry, and the duty cycle that drives every
// publication and subscription.
//
// API surface (internal):
//
//	node, _ := runtime.Open(runtime.Options{Config: cfg})
//	pub, _ := node.AddPublication("weft:inproc?endpoint=orders", 10)
//	sub, _ := node.AddSubscription("weft:inproc?endpoint=orders", 10)
//	go node.Run(ctx, &idle.Backoff{})
package runtime
