// Package serve runs a node with its observability surface until
// interrupted.
package serve

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/weft/internal/config"
	"github.com/rzbill/weft/internal/runtime"
	httpserver "github.com/rzbill/weft/internal/server/http"
	"github.com/rzbill/weft/pkg/idle"
	logpkg "github.com/rzbill/weft/pkg/log"
)

// small wrapper to allow testing
var getenv = func(key string) string { return os.Getenv(key) }

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

type Options struct {
	HTTPAddr string
	Config   cfgpkg.Config
}

// Run opens a node and blocks until ctx is cancelled or a signal
// arrives. The duty cycle and the HTTP server share their lifetime.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCfg := logpkg.Config{
		Level:  getenvDefault("WEFT_LOG_LEVEL", opts.Config.Log.Level),
		Format: getenvDefault("WEFT_LOG_FORMAT", opts.Config.Log.Format),
	}
	logger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}

	node, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: logger})
	if err != nil {
		return err
	}
	defer node.Close()

	httpAddr := opts.HTTPAddr
	if httpAddr == "" {
		httpAddr = opts.Config.HTTPAddr
	}
	logger.Info("starting weft node", logpkg.Str("http", httpAddr))

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		return node.Run(gctx, &idle.Backoff{Min: 50 * time.Microsecond, Max: time.Millisecond})
	})
	if httpAddr != "" {
		hsrv := httpserver.New(node, logger)
		g.Go(func() error {
			return hsrv.ListenAndServe(gctx, httpAddr)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
