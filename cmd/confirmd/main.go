// Package main provides the CLI entry point for the confirmd receiver.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/postalsys/confirmd/internal/config"
	"github.com/postalsys/confirmd/internal/health"
	"github.com/postalsys/confirmd/internal/logging"
	"github.com/postalsys/confirmd/internal/metrics"
	"github.com/postalsys/confirmd/internal/probe"
	"github.com/postalsys/confirmd/internal/recovery"
	"github.com/postalsys/confirmd/internal/sysinfo"
	"github.com/postalsys/confirmd/internal/udp"
	"github.com/postalsys/confirmd/internal/wizard"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "confirmd",
		Short: "confirmd - UDP transfer confirmation receiver",
		Long: `confirmd listens on one or more UDP ports and answers every
datagram it receives with "Successfully transferred <N> bytes",
where N is the size of the payload.`,
		Version:       sysinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Long:  "Run the setup wizard and write a receiver configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}

			if _, err := wizard.New().Run(configPath); err != nil {
				return fmt.Errorf("setup wizard: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "output", "o", "./config.yaml", "Path of the configuration file to write")

	return cmd
}

func runCmd() *cobra.Command {
	var (
		configPath string
		ports      []int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the receiver",
		Long:  "Bind the configured UDP ports and confirm every datagram until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, ports)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runReceiver(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().IntSliceVarP(&ports, "port", "p", nil, "Port to listen on, overrides receiver.ports (repeatable)")

	return cmd
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist and ports are given on the command line.
func loadConfig(path string, ports []int) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || len(ports) == 0 {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = config.Default()
	}

	if len(ports) > 0 {
		cfg.Receiver.Ports = ports
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	if len(cfg.Receiver.Ports) == 0 {
		return nil, fmt.Errorf("no ports configured: set receiver.ports or pass --port")
	}
	return cfg, nil
}

func runReceiver(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetricsWithRegistry(reg)

	bufSize, err := cfg.Receiver.BufferBytes()
	if err != nil {
		return err
	}

	listener := udp.NewListener(udp.Config{
		BindAddress:      cfg.Receiver.BindAddress,
		BufferSize:       bufSize,
		ErrorLogInterval: cfg.Receiver.ErrorLogInterval,
	}, logger, m)

	listener.SubscribeLogger(udp.SlogLogFunc(logger))
	listener.SubscribeDataReader(func(data []byte) {
		logger.Debug("payload",
			slog.Int(logging.KeyBytes, len(data)),
			slog.String("size", humanize.IBytes(uint64(len(data)))))
	})

	for _, port := range cfg.Receiver.ListenPorts() {
		ok, err := listener.ListenOn(port)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on port %d: %w", port, err)
		}
		if !ok && !cfg.Receiver.SkipInUse {
			listener.Close()
			return fmt.Errorf("port %d is already in use", port)
		}
	}
	if len(listener.Ports()) == 0 {
		listener.Close()
		return fmt.Errorf("no ports could be bound")
	}

	logger.Info("receiver started",
		slog.String("version", sysinfo.Version),
		slog.Any("ports", listener.Ports()),
		slog.String("buffer", humanize.IBytes(uint64(bufSize))))

	provider := &listenerStats{listener: listener}
	provider.running.Store(true)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Health.Enabled {
		srv := health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
			Gatherer:     reg,
		}, provider)

		g.Go(func() (err error) {
			defer recovery.RecoverToError(logger, "health.Server", &err)
			logger.Info("health server listening", slog.String("address", cfg.Health.Address))
			return srv.Serve(gctx)
		})
	}

	g.Go(func() (err error) {
		defer recovery.RecoverToError(logger, "udp.Listener", &err)
		<-gctx.Done()

		start := time.Now()
		provider.running.Store(false)
		err = listener.Close()

		stats := listener.Stats()
		logger.Info("receiver stopped",
			slog.Uint64("datagrams", stats.DatagramsReceived),
			slog.String("received", humanize.IBytes(stats.BytesReceived)),
			slog.Uint64("confirmations", stats.ConfirmationsSent),
			slog.Duration(logging.KeyDuration, time.Since(start)))
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// listenerStats exposes a Listener to the health server.
type listenerStats struct {
	listener *udp.Listener
	running  atomic.Bool
}

func (p *listenerStats) IsRunning() bool {
	return p.running.Load()
}

func (p *listenerStats) Stats() health.Stats {
	s := p.listener.Stats()
	return health.Stats{
		ListeningPorts:    s.Ports,
		DatagramsReceived: s.DatagramsReceived,
		BytesReceived:     s.BytesReceived,
		ConfirmationsSent: s.ConfirmationsSent,
		ReceiveErrors:     s.ReceiveErrors,
		ConfirmErrors:     s.ConfirmErrors,
	}
}

func probeCmd() *cobra.Command {
	var (
		payload string
		size    string
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <host:port>",
		Short: "Send a test datagram and check the confirmation",
		Long: `Send a datagram to a running receiver and verify that it answers
with the expected confirmation. Use --payload for literal content or
--size for generated filler such as 512, 1KB or 2KiB.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := []byte(payload)
			if size != "" {
				n, err := probe.ParseSize(size)
				if err != nil {
					return err
				}
				data = probe.Payload(n)
			}

			failed := 0
			for i := 0; i < count; i++ {
				result := probe.Probe(cmd.Context(), probe.Options{
					Address: args[0],
					Payload: data,
					Timeout: timeout,
				})

				if !result.Success {
					failed++
					fmt.Printf("%s: FAILED (%s)\n", result.Address, result.ErrorDetail)
					continue
				}
				fmt.Printf("%s: sent %s, %q in %v\n",
					result.Address,
					humanize.IBytes(uint64(result.Sent)),
					result.Confirmation,
					result.RTT.Round(time.Microsecond))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d probes failed", failed, count)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "ping", "Literal payload to send")
	cmd.Flags().StringVar(&size, "size", "", "Send generated payload of this size instead of --payload")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of probes to send")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", config.Default().Probe.Timeout, "Time to wait for each confirmation")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			info := sysinfo.Collect()
			fmt.Printf("confirmd %s\n", info.Version)
			fmt.Printf("  go:       %s\n", info.GoVersion)
			fmt.Printf("  platform: %s/%s\n", info.OS, info.Arch)
		},
	}
}
