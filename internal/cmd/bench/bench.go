// Package bench measures loopback throughput of the transport core: one
// publication and one subscription on an in-process endpoint, a pinned
// duty cycle, and a timed offer/poll run.
package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/weft/internal/config"
	"github.com/rzbill/weft/internal/logbuffer"
	"github.com/rzbill/weft/internal/runtime"
	"github.com/rzbill/weft/internal/stream"
	"github.com/rzbill/weft/pkg/idle"
	"github.com/rzbill/weft/pkg/log"
)

type Options struct {
	Messages int
	Size     int
	StreamID int32
	Config   cfgpkg.Config
}

// Result is one benchmark run.
type Result struct {
	Messages int
	Bytes    int64
	Elapsed  time.Duration
}

// Throughput returns messages per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Messages) / r.Elapsed.Seconds()
}

func (r Result) String() string {
	return fmt.Sprintf("%d msgs, %d bytes in %v (%.0f msg/s)",
		r.Messages, r.Bytes, r.Elapsed.Round(time.Millisecond), r.Throughput())
}

// Run executes the benchmark. The duty cycle runs on its own goroutine;
// the caller's goroutine offers and polls, the way applications use the
// transport.
func Run(ctx context.Context, opts Options, logger log.Logger) (Result, error) {
	if opts.Messages <= 0 || opts.Size <= 0 {
		return Result{}, errors.New("bench: messages and size must be positive")
	}
	node, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: logger})
	if err != nil {
		return Result{}, err
	}
	defer node.Close()

	pub, err := node.AddPublication("weft:inproc?endpoint=bench", opts.StreamID)
	if err != nil {
		return Result{}, err
	}
	sub, err := node.AddSubscription("weft:inproc?endpoint=bench", opts.StreamID)
	if err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := node.Run(gctx, idle.Yield{})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	payload := bytes.Repeat([]byte{0xA5}, opts.Size)
	strategy := idle.Yield{}
	start := time.Now()

	received := 0
	var receivedBytes int64
	handler := func(msg []byte, _ logbuffer.Header) {
		received++
		receivedBytes += int64(len(msg))
	}

	for sent := 0; sent < opts.Messages; {
		if gctx.Err() != nil {
			cancel()
			_ = g.Wait()
			return Result{}, gctx.Err()
		}
		pos, err := pub.Offer(payload)
		if err != nil {
			cancel()
			_ = g.Wait()
			return Result{}, err
		}
		if pos >= 0 {
			sent++
			continue
		}
		switch pos {
		case stream.NotConnected, stream.BackPressured, stream.AdminAction:
			strategy.Idle(sub.Poll(handler, 256))
		default:
			cancel()
			_ = g.Wait()
			return Result{}, fmt.Errorf("bench: offer status %d", pos)
		}
	}
	for received < opts.Messages && gctx.Err() == nil {
		strategy.Idle(sub.Poll(handler, 256))
	}
	elapsed := time.Since(start)

	cancel()
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if received < opts.Messages {
		return Result{}, fmt.Errorf("bench: received %d of %d", received, opts.Messages)
	}
	return Result{Messages: received, Bytes: receivedBytes, Elapsed: elapsed}, nil
}
