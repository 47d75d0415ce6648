package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/messagebus"
	"github.com/dshills/messagebus/internal/config"
	"github.com/dshills/messagebus/internal/log"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	workload    workload
	metricsAddr string
	hold        time.Duration
}

func newRunCmd() *cobra.Command {
	opts := runOptions{
		workload: workload{
			publishers: 4,
			messages:   10000,
			listeners:  1,
		},
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a publish workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBench(ctx, cmd.OutOrStdout(), path, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.workload.publishers, "publishers", "p", opts.workload.publishers, "Number of concurrent publishers")
	f.IntVarP(&opts.workload.messages, "messages", "n", opts.workload.messages, "Messages per publisher")
	f.Float64VarP(&opts.workload.rate, "rate", "r", 0, "Total publish rate per second (0 for unlimited)")
	f.BoolVarP(&opts.workload.async, "async", "a", false, "Publish asynchronously")
	f.IntVarP(&opts.workload.listeners, "listeners", "l", opts.workload.listeners, "Listeners per message type")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	f.DurationVar(&opts.hold, "hold", 0, "Keep serving metrics for this long after the run")
	return cmd
}

func runBench(ctx context.Context, out io.Writer, path string, opts runOptions) error {
	if opts.workload.publishers < 1 || opts.workload.messages < 0 || opts.workload.listeners < 0 {
		return fmt.Errorf("invalid workload: publishers must be positive, messages and listeners non-negative")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "busbench"})

	runID := uuid.NewString()
	logger := log.WithComponent("busbench").With().Str("run_id", runID).Logger()

	busOpts, err := messagebus.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if opts.metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		busOpts = append(busOpts, messagebus.WithMetricsRegisterer(reg))
	}

	bus, err := messagebus.New(busOpts...)
	if err != nil {
		return err
	}

	var srv *http.Server
	if reg != nil {
		srv = serveMetrics(opts.metricsAddr, reg, logger)
	}

	res, runErr := runWorkload(ctx, bus, opts.workload, logger)
	printResult(out, runID, cfg, opts.workload, res)

	if srv != nil && opts.hold > 0 {
		logger.Info().Dur("hold", opts.hold).Str("addr", opts.metricsAddr).Msg("serving metrics")
		select {
		case <-ctx.Done():
		case <-time.After(opts.hold):
		}
	}

	shutdownErr := bus.Shutdown()
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}

func printResult(out io.Writer, runID string, cfg config.Config, w workload, res result) {
	mode := "sync"
	if w.async {
		mode = "async (" + cfg.AsyncBackend + ")"
	}
	st := res.Stats

	fmt.Fprintf(out, "run        %s\n", runID)
	fmt.Fprintf(out, "mode       %s, %s\n", mode, cfg.DispatchMode)
	fmt.Fprintf(out, "published  %d in %s (%.0f msg/s)\n", res.Published, res.Elapsed.Round(time.Millisecond), res.Throughput())
	fmt.Fprintf(out, "received   %d\n", res.Received)
	fmt.Fprintf(out, "delivered  %d (dead %d, unhandled %d, cancelled %d)\n", st.Delivered, st.Dead, st.Unhandled, st.Cancelled)
	fmt.Fprintf(out, "errors     %d\n", st.Errors)
	if w.async {
		fmt.Fprintf(out, "dropped    %d\n", st.Dropped)
	}
}
