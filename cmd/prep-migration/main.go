// Command prep-migration filters a SONG dump to the published records the
// ICGC-25K ruleset changes and writes them into one partition per analysis
// type under argo_song_migration/<date>/ in the configured blob store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"songmigration/internal/blob"
	"songmigration/internal/cmdutil"
	"songmigration/internal/config"
	"songmigration/internal/prep"
	"songmigration/internal/rules"
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
	common    cmdutil.Common
	dump      string
	date      string
	overwrite bool
	blobRoot  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "prep-migration -d <dump.jsonl>",
		Short: "Extract SONG analyses that need the ICGC-25K taxonomy migration",
		Long: `Reads a line-delimited JSON dump of SONG analyses, keeps published records
that the ICGC-25K remapping changes, and writes them to
argo_song_migration/<date>/migrate_<type>.jsonl in the blob store.`,
		Args: cmdutil.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), &f, stdout, stderr)
		},
	}
	f.common.Register(cmd)
	cmd.Flags().StringVarP(&f.dump, "dump", "d", "", "dump file, a local path or blob://<key>")
	cmd.Flags().StringVar(&f.date, "date", "", "output folder date (YYYY-MM-DD, default today in local time)")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "replace partitions left by an earlier run on the same date")
	cmd.Flags().StringVar(&f.blobRoot, "out", "", "filesystem blob root (overrides blob.fs_root)")
	return cmd
}

func run(ctx context.Context, f *flags, stdout, stderr io.Writer) (err error) {
	if err := cmdutil.Required(map[string]string{"dump": f.dump}); err != nil {
		return err
	}
	var date time.Time
	if f.date != "" {
		if date, err = time.Parse("2006-01-02", f.date); err != nil {
			return cmdutil.Usagef("invalid --date %q: want YYYY-MM-DD", f.date)
		}
	}
	env, err := f.common.Bootstrap(stderr, func(cfg *config.Config) {
		if f.blobRoot != "" {
			cfg.Blob.FSRoot = f.blobRoot
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

	store, err := blob.Open(ctx, env.Config.Blob)
	if err != nil {
		return err
	}
	in, err := blob.OpenRef(ctx, store, f.dump)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	env.Logger.Info("transform started", zap.String("dump", f.dump), zap.String("store", string(store.Driver())))
	sum, err := prep.Run(ctx, in, prep.Options{
		Store:     store,
		Date:      date,
		Overwrite: f.overwrite,
		Logger:    env.Logger,
		Metrics:   env.Metrics,
	})
	if err != nil {
		return err
	}
	return printSummary(stdout, sum)
}

func printSummary(w io.Writer, sum prep.Summary) error {
	if _, err := fmt.Fprintf(w, "read %d records, wrote %s\n", sum.Read, sum.Prefix); err != nil {
		return err
	}
	for _, p := range sum.Partitions {
		line := fmt.Sprintf("  %-45s %6d records", p.Key, p.Records)
		if p.URL != "" {
			line += "  " + p.URL
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	for _, reason := range rules.SkipReasons {
		if n := sum.Skipped[reason]; n > 0 {
			if _, err := fmt.Fprintf(w, "  skipped %-18s %6d\n", reason, n); err != nil {
				return err
			}
		}
	}
	return nil
}
