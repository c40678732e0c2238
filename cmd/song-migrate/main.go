// Command song-migrate replays migration partitions against the SONG API:
// for every record it unpublishes the analysis, updates the analysis, updates
// each file and publishes again. The first failed call aborts the run.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"songmigration/internal/blob"
	"songmigration/internal/cmdutil"
	"songmigration/internal/config"
	"songmigration/internal/ledger"
	"songmigration/internal/replay"
	"songmigration/internal/song"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return cmdutil.Execute(ctx, newRootCmd(stdout, stderr), args, stdout, stderr)
}

type flags struct {
	common      cmdutil.Common
	dump        string
	songURL     string
	token       string
	resume      bool
	runKey      string
	ledger      string
	delay       time.Duration
	maxAttempts int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "song-migrate -d <partition> -t <token>",
		Short: "Replay migrated analyses against the SONG API",
		Long: `Replays each record of a migration partition against SONG, one call at a
time: unpublish, update analysis, update every file, publish. The partition is
a local path or blob://<key> in the configured blob store.

With a sqlite or postgres ledger, a failed run can be continued with --resume;
records already published are skipped and partial records continue from the
next step.`,
		Args: cmdutil.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &f, stdout, stderr)
		},
	}
	f.common.Register(cmd)
	cmd.Flags().StringVarP(&f.dump, "dump", "d", "", "partition to replay, a local path or blob://<key>")
	cmd.Flags().StringVarP(&f.songURL, "song-url", "m", "", "SONG base URL (overrides catalog.base_url)")
	cmd.Flags().StringVarP(&f.token, "token", "t", "", "SONG access token (overrides catalog.token)")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "continue from stored checkpoints")
	cmd.Flags().StringVar(&f.runKey, "run-key", "", "checkpoint scope (default: the --dump value)")
	cmd.Flags().StringVar(&f.ledger, "ledger", "", "checkpoint ledger driver: memory, sqlite or postgres")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "pause before every call (overrides catalog.delay)")
	cmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 0, "attempts per call including the first (overrides catalog.max_attempts)")
	return cmd
}

func run(cmd *cobra.Command, f *flags, stdout, stderr io.Writer) (err error) {
	ctx := cmd.Context()
	if err := cmdutil.Required(map[string]string{"dump": f.dump}); err != nil {
		return err
	}
	env, err := f.common.Bootstrap(stderr, func(cfg *config.Config) {
		if f.songURL != "" {
			cfg.Catalog.BaseURL = f.songURL
		}
		if f.token != "" {
			cfg.Catalog.Token = f.token
		}
		if f.ledger != "" {
			cfg.Ledger.Driver = f.ledger
		}
		if cmd.Flags().Changed("delay") {
			cfg.Catalog.Delay = f.delay.String()
		}
		if cmd.Flags().Changed("max-attempts") {
			cfg.Catalog.MaxAttempts = f.maxAttempts
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	cfg := env.Config
	if cfg.Catalog.Token == "" {
		return cmdutil.Usagef("a SONG token is required (-t or SONGMIGRATE_TOKEN)")
	}

	client, err := song.New(song.Options{
		BaseURL:     cfg.Catalog.BaseURL,
		Token:       cfg.Catalog.Token,
		Delay:       cfg.DelayDuration(),
		Timeout:     cfg.TimeoutDuration(),
		MaxAttempts: cfg.Catalog.MaxAttempts,
		Backoff:     cfg.BackoffDuration(),
		Logger:      env.Logger,
		Metrics:     env.Metrics,
	})
	if err != nil {
		return cmdutil.Usage(err)
	}
	defer client.Close()

	led, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer func() { _ = led.Close() }()
	if f.resume && led.Driver() == ledger.DriverMemory {
		env.Logger.Warn("--resume with the memory ledger has no stored checkpoints to continue from")
	}

	var store blob.Store
	if isBlobRef(f.dump) {
		if store, err = blob.Open(ctx, cfg.Blob); err != nil {
			return err
		}
	}
	in, err := blob.OpenRef(ctx, store, f.dump)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	runKey := f.runKey
	if runKey == "" {
		runKey = f.dump
	}
	driver, err := replay.New(replay.Options{
		Catalog: client,
		Ledger:  led,
		RunKey:  runKey,
		Resume:  f.resume,
		Logger:  env.Logger,
		Metrics: env.Metrics,
	})
	if err != nil {
		return err
	}
	env.Logger.Info("replay started",
		zap.String("dump", f.dump),
		zap.String("song", cfg.Catalog.BaseURL),
		zap.String("ledger", string(led.Driver())),
		zap.String("run_key", runKey),
		zap.Bool("resume", f.resume),
	)
	sum, err := driver.Run(ctx, in)
	if _, perr := fmt.Fprintf(stdout, "attempt %s: %d records, %d replayed, %d resumed, %d skipped, %d calls\n",
		sum.AttemptID, sum.Records, sum.Replayed, sum.Resumed, sum.Skipped, sum.Calls); perr != nil && err == nil {
		err = perr
	}
	if err != nil && led.Driver() != ledger.DriverMemory {
		env.Logger.Info("rerun with --resume to continue", zap.String("run_key", runKey))
	}
	return err
}

func isBlobRef(ref string) bool {
	return strings.HasPrefix(ref, blob.RefScheme)
}
