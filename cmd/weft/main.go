package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	benchcmd "github.com/rzbill/weft/internal/cmd/bench"
	"github.com/rzbill/weft/internal/cmd/serve"
	statcmd "github.com/rzbill/weft/internal/cmd/stat"
	cfgpkg "github.com/rzbill/weft/internal/config"
	logpkg "github.com/rzbill/weft/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "weft",
		Short: "Weft transport node CLI",
		Long:  "Weft is an in-process reliable messaging transport. This CLI runs a node, benchmarks the loopback path, and inspects counters.",
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(benchCommand())
	rootCmd.AddCommand(statCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration: file (explicit or default path),
// then environment overlays.
func loadConfig(path string) (cfgpkg.Config, error) {
	var cfg cfgpkg.Config
	var err error
	switch {
	case path != "":
		cfg, err = cfgpkg.Load(path)
	default:
		if def := cfgpkg.DefaultPath(); def != "" {
			if _, statErr := os.Stat(def); statErr == nil {
				cfg, err = cfgpkg.Load(def)
				break
			}
		}
		cfg = cfgpkg.Default()
	}
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, err
	}
	return cfg, nil
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a weft node",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			return serve.Run(cmd.Context(), serve.Options{HTTPAddr: httpAddr, Config: cfg})
		},
	}
	cmd.Flags().String("config", "", "config file (json or yaml)")
	cmd.Flags().String("http", "", "observability listen address (overrides config)")
	return cmd
}

func benchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark loopback throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, _ := cmd.Flags().GetInt("messages")
			size, _ := cmd.Flags().GetInt("size")
			streamID, _ := cmd.Flags().GetInt32("stream")
			path, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			res, err := benchcmd.Run(cmd.Context(), benchcmd.Options{
				Messages: messages,
				Size:     size,
				StreamID: streamID,
				Config:   cfg,
			}, logpkg.NewNop())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().Int("messages", 100000, "messages to send")
	cmd.Flags().Int("size", 256, "payload size in bytes")
	cmd.Flags().Int32("stream", 1, "stream id")
	cmd.Flags().String("config", "", "config file (json or yaml)")
	return cmd
}

func statCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Poll a node's counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			interval, _ := cmd.Flags().GetDuration("interval")
			count, _ := cmd.Flags().GetInt("count")
			return statcmd.Run(cmd.Context(), statcmd.Options{
				Addr:     addr,
				Interval: interval,
				Count:    count,
			}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "node HTTP address")
	cmd.Flags().Duration("interval", time.Second, "poll interval")
	cmd.Flags().Int("count", 0, "snapshots to print, 0 runs until interrupted")
	return cmd
}
