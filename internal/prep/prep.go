// Package prep is the transform stage: it filters a SONG dump down to the
// published records the ICGC-25K ruleset changes and writes them into one
// line-delimited JSON partition per analysis type.
package prep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"songmigration/internal/analysis"
	"songmigration/internal/blob"
	"songmigration/internal/metrics"
	"songmigration/internal/rules"
)

// OutputRoot is the key prefix every run writes under.
const OutputRoot = "argo_song_migration"

const partitionContentType = "application/x-ndjson"

// now is swapped by tests.
var now = time.Now

// ErrPartitionExists is returned when a run would replace existing partitions.
var ErrPartitionExists = errors.New("partition already exists")

// Options configures a transform run.
type Options struct {
	Store blob.Store
	// Engine defaults to the ICGC-25K ruleset.
	Engine *rules.Engine
	// Date selects the output folder; defaults to today in local time.
	Date time.Time
	// Overwrite replaces partitions left by an earlier run on the same date.
	Overwrite bool
	// TempDir holds the spool files; defaults to the OS temp dir.
	TempDir       string
	PresignExpiry time.Duration
	Logger        *zap.Logger
	Metrics       metrics.Recorder
}

// Partition describes one written partition.
type Partition struct {
	Type    analysis.TypeName
	Key     string
	Records int
	Size    int64
	URL     string
}

// Summary reports the outcome of a run.
type Summary struct {
	Read       int
	Emitted    map[analysis.TypeName]int
	Skipped    map[rules.SkipReason]int
	Prefix     string
	Partitions []Partition
}

// Prefix returns the folder partitions are written to for date.
func Prefix(date time.Time) string {
	return path.Join(OutputRoot, date.Format("2006-01-02"))
}

// Run reads the dump from r and writes the four partitions to opts.Store.
// The partitions are written even when empty.
func Run(ctx context.Context, r io.Reader, opts Options) (Summary, error) {
	if opts.Store == nil {
		return Summary{}, fmt.Errorf("prep: blob store required")
	}
	engine := opts.Engine
	if engine == nil {
		engine = rules.NewDefaultEngine()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop()
	}
	date := opts.Date
	if date.IsZero() {
		date = now()
	}

	sum := Summary{
		Emitted: make(map[analysis.TypeName]int, len(analysis.KnownTypes)),
		Skipped: make(map[rules.SkipReason]int, len(rules.SkipReasons)),
		Prefix:  Prefix(date),
	}
	existing, err := checkExisting(ctx, opts.Store, sum.Prefix, opts.Overwrite)
	if err != nil {
		return sum, err
	}

	spools := make(map[analysis.TypeName]*spool, len(analysis.KnownTypes))
	defer func() {
		for _, s := range spools {
			s.remove()
		}
	}()
	for _, t := range analysis.KnownTypes {
		s, err := newSpool(opts.TempDir, t)
		if err != nil {
			return sum, err
		}
		spools[t] = s
	}

	err = analysis.ReadLines(r, func(line int, a *analysis.Analysis) error {
		sum.Read++
		res := engine.Transform(a)
		if !res.Retained() {
			sum.Skipped[res.Skip]++
			rec.Record(ctx, "transform", "skip_"+string(res.Skip))
			logger.Debug("record skipped", zap.Int("line", line), zap.String("analysis", a.ID), zap.String("reason", string(res.Skip)))
			return nil
		}
		if err := spools[res.Partition].write(res.Analysis); err != nil {
			return fmt.Errorf("line %d: spool %s: %w", line, res.Partition, err)
		}
		sum.Emitted[res.Partition]++
		rec.Record(ctx, "transform", string(res.Partition))
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("read dump: %w", err)
	}

	for _, t := range analysis.KnownTypes {
		p, err := upload(ctx, opts, sum.Prefix, t, spools[t], existing[t])
		if err != nil {
			return sum, err
		}
		sum.Partitions = append(sum.Partitions, p)
		logger.Info("partition written",
			zap.String("type", string(t)),
			zap.String("key", p.Key),
			zap.Int("records", p.Records),
			zap.Int64("bytes", p.Size),
			zap.String("url", p.URL),
		)
	}
	logger.Info("transform finished", zap.Int("read", sum.Read), zap.Int("emitted", sum.emitted()), zap.String("prefix", sum.Prefix))
	return sum, nil
}

func (s Summary) emitted() int {
	n := 0
	for _, c := range s.Emitted {
		n += c
	}
	return n
}

// checkExisting fails fast, before the dump is read, when partitions exist
// and overwrite is off.
func checkExisting(ctx context.Context, store blob.Store, prefix string, overwrite bool) (map[analysis.TypeName]bool, error) {
	existing := make(map[analysis.TypeName]bool)
	for _, t := range analysis.KnownTypes {
		key := path.Join(prefix, t.Partition())
		_, err := store.Head(ctx, key)
		switch {
		case err == nil:
			if !overwrite {
				return nil, fmt.Errorf("%w: %s (use --overwrite to replace it)", ErrPartitionExists, key)
			}
			existing[t] = true
		case errors.Is(err, blob.ErrNotFound):
		default:
			return nil, fmt.Errorf("check %s: %w", key, err)
		}
	}
	return existing, nil
}

func upload(ctx context.Context, opts Options, prefix string, t analysis.TypeName, s *spool, replace bool) (Partition, error) {
	key := path.Join(prefix, t.Partition())
	body, err := s.reader()
	if err != nil {
		return Partition{}, fmt.Errorf("spool %s: %w", t, err)
	}
	if replace {
		if _, err := opts.Store.Delete(ctx, key); err != nil {
			return Partition{}, fmt.Errorf("replace %s: %w", key, err)
		}
	}
	info, err := opts.Store.Put(ctx, key, body, blob.PutOptions{
		ContentType: partitionContentType,
		Metadata:    map[string]string{"records": strconv.Itoa(s.records), "analysis-type": string(t)},
	})
	if err != nil {
		return Partition{}, fmt.Errorf("write %s: %w", key, err)
	}
	p := Partition{Type: t, Key: key, Records: s.records, Size: info.Size}
	u, err := opts.Store.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: opts.PresignExpiry})
	switch {
	case err == nil:
		p.URL = u
	case errors.Is(err, blob.ErrUnsupported):
	default:
		return p, fmt.Errorf("presign %s: %w", key, err)
	}
	return p, nil
}
