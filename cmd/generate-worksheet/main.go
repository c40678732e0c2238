// Command generate-worksheet joins the legacy-to-ARGO analysis ID mapping of a
// SONG import report with an ICGC summary table into a tracking worksheet. It
// also writes the mapping itself to <project>_analysis_id_mapping.tsv.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"songmigration/internal/blob"
	"songmigration/internal/cmdutil"
	"songmigration/internal/worksheet"
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
	common     cmdutil.Common
	summary    string
	report     string
	out        string
	project    string
	policy     string
	mappingDir string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "generate-worksheet -s <summary.tsv> -i <report.json> -o <worksheet.tsv> -p <project>",
		Short: "Join an import report with an ICGC summary table",
		Args:  cmdutil.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), &f, stdout, stderr)
		},
	}
	f.common.Register(cmd)
	cmd.Flags().StringVarP(&f.summary, "summary", "s", "", "ICGC summary table (TSV), a local path or blob://<key>")
	cmd.Flags().StringVarP(&f.report, "report", "i", "", "import report (JSON), a local path or blob://<key>")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "worksheet to write")
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "project code, used to name the mapping file")
	cmd.Flags().StringVar(&f.policy, "designation-policy", string(worksheet.PolicyCarry), "specimen types naming neither tumour nor normal: carry, empty or error")
	cmd.Flags().StringVar(&f.mappingDir, "mapping-dir", ".", "directory the mapping file is written to")
	return cmd
}

func run(ctx context.Context, f *flags, stdout, stderr io.Writer) (err error) {
	if err := cmdutil.Required(map[string]string{"summary": f.summary, "report": f.report, "out": f.out, "project": f.project}); err != nil {
		return err
	}
	policy, err := worksheet.ParsePolicy(f.policy)
	if err != nil {
		return cmdutil.Usage(err)
	}
	env, err := f.common.Bootstrap(stderr, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var store blob.Store
	if strings.HasPrefix(f.report, blob.RefScheme) || strings.HasPrefix(f.summary, blob.RefScheme) {
		if store, err = blob.Open(ctx, env.Config.Blob); err != nil {
			return err
		}
	}

	report, err := readAll(ctx, store, f.report)
	if err != nil {
		return err
	}
	mapping, err := worksheet.ParseReport(report)
	if err != nil {
		return fmt.Errorf("%s: %w", f.report, err)
	}
	mappingPath := filepath.Join(f.mappingDir, f.project+"_analysis_id_mapping.tsv")
	if err := writeFile(mappingPath, mapping.WriteTSV); err != nil {
		return err
	}
	env.Logger.Info("mapping written", zap.String("path", mappingPath), zap.Int("legacy_ids", mapping.Len()))

	summary, err := blob.OpenRef(ctx, store, f.summary)
	if err != nil {
		return err
	}
	defer func() { _ = summary.Close() }()

	var stats worksheet.Stats
	err = writeFile(f.out, func(w io.Writer) error {
		var jerr error
		stats, jerr = worksheet.Join(mapping, summary, w, worksheet.Options{Policy: policy, Logger: env.Logger})
		return jerr
	})
	if err != nil {
		return err
	}
	env.Logger.Info("worksheet written",
		zap.String("path", f.out),
		zap.Int("rows", stats.Rows),
		zap.Int("emitted", stats.Emitted),
		zap.Int("unmapped", stats.Unmapped),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("undesignated", stats.Undesignated),
	)
	_, err = fmt.Fprintf(stdout, "%d of %d summary rows joined into %s\n", stats.Emitted, stats.Rows, f.out)
	return err
}

func readAll(ctx context.Context, store blob.Store, ref string) ([]byte, error) {
	rc, err := blob.OpenRef(ctx, store, ref)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
