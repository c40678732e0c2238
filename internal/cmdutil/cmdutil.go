// Package cmdutil holds the bootstrap shared by the migration binaries:
// config loading, logger and metrics setup, and exit-code mapping.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"songmigration/internal/config"
	"songmigration/internal/logging"
	"songmigration/internal/metrics"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Common are the flags every binary accepts.
type Common struct {
	ConfigPath string
	Verbose    bool
}

// Register adds the common flags to cmd.
func (c *Common) Register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&c.Verbose, "verbose", "v", false, "enable debug logging")
}

// Env is what a command runs with.
type Env struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Prometheus
}

// Bootstrap loads the config, lets override apply flag values on top of it,
// validates the result and builds the logger writing to stderr.
func (c *Common) Bootstrap(stderr io.Writer, override func(*config.Config)) (*Env, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, Usage(err)
	}
	logger, err := logging.New(cfg.Logging, c.Verbose, stderr)
	if err != nil {
		return nil, Usage(err)
	}
	return &Env{Config: cfg, Logger: logger, Metrics: metrics.NewPrometheus()}, nil
}

// Close writes the metrics textfile, if configured, and flushes the logger.
func (e *Env) Close() error {
	err := e.Metrics.WriteTextfile(e.Config.Metrics.File)
	if err != nil {
		e.Logger.Error("write metrics textfile", zap.String("path", e.Config.Metrics.File), zap.Error(err))
	}
	_ = e.Logger.Sync()
	if err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

// Usage marks err as a usage error; Execute maps it to ExitUsage.
func Usage(err error) error {
	if err == nil {
		return nil
	}
	return usageError{err: err}
}

// Usagef formats a usage error.
func Usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// IsUsage reports whether err is a usage error.
func IsUsage(err error) bool {
	var u usageError
	return errors.As(err, &u)
}

// Execute runs cmd with args and maps the outcome to an exit code. Errors are
// printed to stderr; usage errors are followed by the usage text.
func Execute(ctx context.Context, cmd *cobra.Command, args []string, stdout, stderr io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return Usage(err) })
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "%s: %v\n", cmd.Name(), err)
	if IsUsage(err) {
		fmt.Fprint(stderr, cmd.UsageString())
		return ExitUsage
	}
	return ExitError
}

// Required returns a usage error naming the first empty flag value.
func Required(flags map[string]string) error {
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		if flags[name] == "" {
			return Usagef("required flag --%s not set", name)
		}
	}
	return nil
}

// NoArgs rejects positional arguments as a usage error.
func NoArgs(cmd *cobra.Command, args []string) error {
	return Usage(cobra.NoArgs(cmd, args))
}
