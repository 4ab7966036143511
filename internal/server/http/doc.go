// Package httpserver exposes the node's observability surface over HTTP:
// health, counter snapshots as JSON, a live counter feed over SSE, and
// Prometheus metrics.
//
// Example:
//
//	node, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := httpserver.New(node, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
