package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/roach88/gettrail/internal/compress"
	"github.com/roach88/gettrail/internal/config"
	"github.com/roach88/gettrail/internal/idset"
	"github.com/roach88/gettrail/internal/store"
)

// inputBufferSize is the read buffer of the input iterator. Events larger
// than the buffer are read in several refills.
const inputBufferSize = 64 * 1024

var inputAPI = jsoniter.Config{EscapeHTML: false}.Froze()

// MakeOptions holds the flags of the trailmake command.
type MakeOptions struct {
	Output           string
	Fields           []string
	InputCompression string
	Format           string
	Verbose          bool
}

// MakeResult summarizes a finished trailmake run.
type MakeResult struct {
	Output string   `json:"output"`
	Fields []string `json:"fields"`
	Events int      `json:"events"`
	Trails int      `json:"trails"`
}

func (r MakeResult) String() string {
	return fmt.Sprintf("wrote %d events in %d trails to %s", r.Events, r.Trails, r.Output)
}

// eventError reports a malformed input event. Index counts from 1.
type eventError struct {
	Index int
	Err   error
}

func (e *eventError) Error() string {
	return fmt.Sprintf("event %d: %v", e.Index, e.Err)
}

func (e *eventError) Unwrap() error { return e.Err }

// NewMakeCommand creates the trailmake command, which builds a store from
// JSON lines of the form
//
//	{"uuid":"<32 hex>","timestamp":<uint64>,"<field>":"<value>",...}
//
// Fields that are missing, null or empty strings are absent in the event.
func NewMakeCommand() *cobra.Command {
	opts := &MakeOptions{}

	cmd := &cobra.Command{
		Use:   "trailmake --fields a,b -o <store-path> [input|-]",
		Short: "Build a trail store from JSON lines",
		Long: `Build a finalized trail store from JSON lines.

Each event is a JSON object with a "uuid" of 32 hex characters, a
"timestamp" and any of the declared fields. Events are separated by
whitespace, normally one per line. Input is read from the named file, or standard input when
no file or "-" is given.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return NewExitError(ExitFailure, fmt.Sprintf("invalid format %q: must be text or json", opts.Format))
			}
			if opts.Output == "" {
				return NewExitError(ExitFailure, "--output is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			input := StdinIdentifiers
			if len(args) == 1 {
				input = args[0]
			}
			err := runMake(cmd, opts, input)
			if err != nil && opts.Format == "json" {
				formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
				_ = formatter.Error(errorCode(err), err.Error())
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "path of the store to create")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "comma separated field names, in order")
	cmd.Flags().StringVar(&opts.InputCompression, "input-compression", "", "input codec (none|gzip|zstd|lz4)")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "summary format (json|text)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")

	return cmd
}

func runMake(cmd *cobra.Command, opts *MakeOptions, input string) error {
	codec, err := compress.ParseType(opts.InputCompression)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid input compression", err)
	}

	cfg := config.Default()
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	var src io.Reader = cmd.InOrStdin()
	if input != StdinIdentifiers {
		f, err := os.Open(input)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to open input", err)
		}
		defer f.Close()
		src = f
	}
	r, err := compress.NewReader(src, codec)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read input", err)
	}
	defer r.Close()

	w, err := store.Create(opts.Output, opts.Fields)
	if err != nil {
		if errors.Is(err, store.ErrInvalidField) {
			return WrapExitError(ExitFailure, "invalid fields", err)
		}
		return WrapExitError(ExitCommandError, "failed to create store", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := loadEvents(ctx, w, r)
	if err != nil {
		w.Close()
		removeStoreFiles(opts.Output)
		var ee *eventError
		if errors.As(err, &ee) {
			return &ExitError{Code: ExitFailure, Err: err}
		}
		return WrapExitError(ExitCommandError, "failed to build store", err)
	}
	if err := w.Finalize(ctx); err != nil {
		removeStoreFiles(opts.Output)
		return WrapExitError(ExitCommandError, "failed to finalize store", err)
	}

	result.Output = opts.Output
	result.Fields = w.Fields()
	logger.Debug("store written", "path", opts.Output, "events", result.Events, "trails", result.Trails)

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(result)
}

// loadEvents stages every input event into w. Events are JSON objects
// separated by whitespace, usually one per line.
func loadEvents(ctx context.Context, w *store.Writer, r io.Reader) (MakeResult, error) {
	fields := w.Fields()
	index := make(map[string]int, len(fields))
	for i, name := range fields {
		index[name] = i
	}
	values := make([]string, len(fields))
	trails := make(map[uuid.UUID]struct{})

	var result MakeResult
	iter := jsoniter.Parse(inputAPI, r, inputBufferSize)
	for {
		next := iter.WhatIsNext()
		if next == jsoniter.InvalidValue {
			if errors.Is(iter.Error, io.EOF) {
				break
			}
			if iter.Error == nil {
				iter.ReportError("read event", "expects an object")
			}
			return result, &eventError{Index: result.Events + 1, Err: fmt.Errorf("invalid JSON: %w", iter.Error)}
		}

		id, ts, err := readEvent(iter, index, values)
		if err != nil {
			return result, &eventError{Index: result.Events + 1, Err: err}
		}
		if err := w.Add(ctx, id, ts, values); err != nil {
			return result, err
		}
		trails[id] = struct{}{}
		result.Events++
	}
	result.Trails = len(trails)
	return result, nil
}

// readEvent decodes the next JSON event from iter into values, indexed like
// fields.
func readEvent(iter *jsoniter.Iterator, index map[string]int, values []string) (uuid.UUID, uint64, error) {
	for i := range values {
		values[i] = ""
	}

	var (
		id             uuid.UUID
		ts             uint64
		haveID, haveTS bool
		fieldErr       error
	)
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		switch key {
		case "uuid":
			raw := it.ReadString()
			if it.Error != nil {
				return false
			}
			parsed, err := parseIdentifier(raw)
			if err != nil {
				fieldErr = err
				return false
			}
			id, haveID = parsed, true
		case "timestamp":
			ts = it.ReadUint64()
			haveTS = true
		default:
			i, ok := index[key]
			if !ok {
				fieldErr = fmt.Errorf("unknown field %q", key)
				return false
			}
			if it.WhatIsNext() == jsoniter.NilValue {
				it.ReadNil()
				return true
			}
			values[i] = it.ReadString()
		}
		return it.Error == nil
	})

	switch {
	case fieldErr != nil:
		return id, 0, fieldErr
	case iter.Error != nil:
		return id, 0, fmt.Errorf("invalid JSON: %w", iter.Error)
	case !haveID:
		return id, 0, errors.New(`missing "uuid"`)
	case !haveTS:
		return id, 0, errors.New(`missing "timestamp"`)
	}
	return id, ts, nil
}

// parseIdentifier accepts exactly 32 hex characters, the form gettrail
// prints.
func parseIdentifier(s string) (uuid.UUID, error) {
	if len(s) != idset.IdentifierLen {
		return uuid.UUID{}, fmt.Errorf("invalid uuid %q: want 32 hex characters", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return id, nil
}

// errorCode maps an exit code to the code of a JSON error response.
func errorCode(err error) string {
	if GetExitCode(err) == ExitCommandError {
		return "E_STORE"
	}
	return "E_INPUT"
}

// removeStoreFiles deletes a partially written store and its SQLite
// sidecar files.
func removeStoreFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		os.Remove(path + suffix)
	}
}
