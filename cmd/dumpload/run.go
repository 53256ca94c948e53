package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bjaus/dumpload"
	"github.com/bjaus/dumpload/httpapi"
	"github.com/bjaus/dumpload/internal/config"
	"github.com/bjaus/dumpload/metrics"
)

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Locate, download and deliver one dump.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDump(cmd.Context(), cfg, stdout, stderr)
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}

// runDump wires the HTTP collaborators, metrics and pipeline for one run and
// prints the summary whatever the outcome.
func runDump(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, cfg)

	opts := httpapi.DefaultOptions()
	opts.Timeout = cfg.HTTPTimeout
	opts.RetryMax = cfg.HTTPRetries
	opts.Token = cfg.APIToken
	opts.Logger = logger

	locator, err := httpapi.NewLocator(cfg.LocatorURL, opts)
	if err != nil {
		return err
	}
	sink, err := httpapi.NewSink(cfg.SinkURL, opts)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	p := dumpload.New(locator, sink).
		WithBatchSize(cfg.BatchSize).
		WithMaxBatchBytes(cfg.MaxBatchBytes).
		WithMaxRetries(cfg.MaxRetries).
		WithBaseDelay(cfg.BaseDelay()).
		WithPipelineDepth(cfg.PipelineDepth).
		WithRateLimit(cfg.MaxBatchesPerSecond).
		WithDownloadAttempts(cfg.DownloadAttempts).
		WithDrainTimeout(cfg.DrainTimeout).
		WithCodec(cfg.CodecValue()).
		WithReportInterval(cfg.LogEvery).
		WithPolicy(cfg.Policy()).
		WithObserver(collector).
		WithLogger(logger)

	if cfg.TrackerURL != "" {
		tracker, err := httpapi.NewTracker(cfg.TrackerURL, opts)
		if err != nil {
			return err
		}
		p = p.WithSessionTracker(tracker)
	}

	summary, runErr := p.Run(ctx, cfg.Selector)
	if err := printSummary(stdout, summary); err != nil {
		logger.Warn("printing summary", "error", err)
	}

	switch summary.State {
	case dumpload.StateSucceeded:
		return nil
	case dumpload.StateCancelled:
		return &runError{code: exitCancelled, err: runErr}
	default:
		return &runError{code: exitFailed, err: runErr}
	}
}

// newMetricsServer serves the registry on /metrics and a liveness probe on
// /healthz.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
