package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/gettrail/internal/compress"
	"github.com/roach88/gettrail/internal/config"
	"github.com/roach88/gettrail/internal/filter"
	"github.com/roach88/gettrail/internal/idset"
	"github.com/roach88/gettrail/internal/store"
	"github.com/roach88/gettrail/internal/telemetry"
	"github.com/roach88/gettrail/internal/trailjson"
)

// StdinIdentifiers is the identifiers argument that selects newline
// separated identifiers on standard input.
const StdinIdentifiers = "-"

// RootOptions holds the flags of the gettrail command.
type RootOptions struct {
	ConfigPath  string
	Verbose     bool
	Compression string
	MetricsFile string
	FlushBytes  int
}

// NewRootCommand creates the gettrail command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gettrail <identifiers> <store-path> [<store-path> ...]",
		Short: "Extract the trails of selected identifiers as JSON",
		Long: `Extract the trails of selected identifiers from one or more trail stores.

<identifiers> is either a comma separated list of 32 character hex
identifiers or "-" to read one identifier per line from standard input.
The result is a JSON array with one object per store, in argument order,
mapping each matching identifier to its events.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return NewExitError(ExitFailure, "too few arguments")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGetTrail(cmd, opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML or TOML config file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")
	cmd.Flags().StringVar(&opts.Compression, "compress", "", "compress output (none|gzip|zstd|lz4)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	cmd.Flags().IntVar(&opts.FlushBytes, "flush-bytes", trailjson.DefaultFlushBytes, "flush output once this many bytes are buffered")

	return cmd
}

func runGetTrail(cmd *cobra.Command, opts *RootOptions, identifiers string, paths []string) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	// The whole identifier set is read before any output is produced, so
	// a bad identifier never leaves a partial document behind.
	ids, err := readIdentifiers(identifiers, cmd.InOrStdin())
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	logger.Debug("identifiers loaded", "count", ids.Len(), "stores", len(paths))

	codec, err := compress.ParseType(cfg.Compression)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}
	out, err := compress.NewWriter(cmd.OutOrStdout(), codec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up output", err)
	}

	metrics := telemetry.New()
	w := trailjson.NewWriter(out, trailjson.WithFlushBytes(cfg.FlushBytes))
	f := filter.New(
		filter.SQLiteOpener(store.WithValueCacheSize(cfg.ValueCacheSize)),
		filter.WithLogger(logger),
		filter.WithMetrics(metrics),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runErr := f.Run(ctx, paths, ids, w)
	if runErr != nil {
		// Whatever was produced before the failure still reaches stdout.
		if err := w.Flush(); err != nil {
			logger.Debug("flush after failure", "error", err)
		}
	}
	closeErr := out.Close()

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	if runErr != nil {
		return WrapExitError(ExitCommandError, "failed to extract trails", runErr)
	}
	if closeErr != nil {
		return WrapExitError(ExitCommandError, "failed to finish output", closeErr)
	}
	return nil
}

// resolveConfig loads the config file, if any, and lets explicitly set
// flags override it.
func resolveConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("compress") {
		cfg.Compression = opts.Compression
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = opts.MetricsFile
	}
	if flags.Changed("flush-bytes") {
		cfg.FlushBytes = opts.FlushBytes
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func readIdentifiers(arg string, stdin io.Reader) (*idset.Set, error) {
	if arg == StdinIdentifiers {
		return idset.ReadLines(stdin)
	}
	return idset.ParseList(arg), nil
}

// newLogger builds the stderr logger described by cfg.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), nil
}
