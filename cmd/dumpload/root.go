package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bjaus/dumpload"
	"github.com/bjaus/dumpload/internal/config"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitCancelled = 130
)

// runError carries the exit code of a finished run through cobra.
type runError struct {
	code int
	err  error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var re *runError
	if errors.As(err, &re) {
		return re.code
	}
	if errors.Is(err, dumpload.ErrCancelled) {
		return exitCancelled
	}
	return exitFailed
}

// NewRootCommand builds the dumpload command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "dumpload",
		Short: "Stream a compressed inventory dump into the ingestion sink.",
		Long: `dumpload locates the current dump for an inventory selector, downloads and
decompresses it on the fly, validates each record against a completeness
policy and delivers the survivors to the sink in fixed-size, gapless batches.

Exit status is 0 when the run succeeded, 1 when it failed and 130 when it was
interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newRunCommand(stdout, stderr))
	rc.AddCommand(newConfigCommand(stdout))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// registerFlags defines one flag per configuration key. Defaults come from
// config.SetDefaults, so flags only override when given explicitly.
func registerFlags(flags *pflag.FlagSet) {
	flags.String("selector", "", "Inventory selector passed to the locator.")

	flags.Int("batch-size", dumpload.DefaultBatchSize, "Records per delivered batch.")
	flags.Int("max-batch-bytes", 0, "Seal a batch early once its raw lines reach this many bytes (0 disables).")
	flags.Int("max-retries", dumpload.DefaultMaxRetries, "Delivery attempts per batch, the first included.")
	flags.Int("base-delay-ms", int(dumpload.DefaultBaseDelay.Milliseconds()), "Linear backoff step between delivery attempts.")
	flags.Int("pipeline-depth", dumpload.DefaultPipelineDepth, "Maximum deliveries in flight.")
	flags.Float64("max-batches-per-second", 0, "Delivery rate limit (0 is unlimited).")
	flags.Int("download-attempts", dumpload.DefaultDownloadAttempts, "Passes over the download before a transport failure is fatal.")
	flags.Duration("drain-timeout", dumpload.DefaultDrainTimeout, "Time in-flight deliveries get to finish after an interrupt.")
	flags.String("codec", string(dumpload.CodecAuto), "Dump compression: auto, zstd or gzip.")
	flags.Int("log-every", dumpload.DefaultReportInterval, "Report progress every N scanned lines.")

	flags.Int("min-images", 0, "Reject records with fewer images.")
	flags.Float64("min-star-rating", 0, "Reject records rated below this; a numeric rating is always required.")
	flags.Bool("require-geo", false, "Reject records without coordinates.")
	flags.Bool("require-address", false, "Reject records without an address.")
	flags.Bool("require-country", false, "Reject records without a country code.")

	flags.String("locator-url", "", "Endpoint that resolves a selector to a download URL.")
	flags.String("sink-url", "", "Endpoint batches are posted to.")
	flags.String("tracker-url", "", "Base URL of the session tracker (empty disables tracking).")
	flags.String("api-token", "", "Bearer token for the locator, sink and tracker.")
	flags.Duration("http-timeout", 60*time.Second, "Per-request timeout for the HTTP collaborators.")
	flags.Int("http-retries", 3, "Retries for the locator and download clients.")

	flags.String("log-format", "text", "Log format: text or json.")
	flags.String("log-level", "info", "Log level: debug, info, warn or error.")
	flags.String("metrics-addr", "", "Serve /metrics and /healthz on this address (empty disables).")
}

// loadConfig binds the command's flags to a viper instance and decodes the
// result. Flag names use dashes, configuration keys use underscores.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	v, err := config.New(path)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Name == "config" {
			return
		}
		if !f.Changed {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return bindErr
}

// newLogger builds the process logger from log_format and log_level.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newConfigCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.APIToken != "" {
				cfg.APIToken = "********"
			}
			_, err = fmt.Fprintf(stdout, "%+v\n", *cfg)
			return err
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}
