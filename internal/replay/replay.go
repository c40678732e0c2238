// Package replay pushes migrated analysis records back into the SONG catalog.
//
// Each record moves through a linear state machine, one catalog call per
// transition:
//
//	pending -> unpublished -> analysis_patched -> files_patched -> published
//
// Files are patched in record order while in analysis_patched. Every completed
// transition is checkpointed so an interrupted run can be resumed. The first
// failed call aborts the run; nothing already applied is rolled back.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"songmigration/internal/analysis"
	"songmigration/internal/ledger"
	"songmigration/internal/metrics"
)

// State is the replay progress of one record.
type State string

const (
	StatePending         State = "pending"
	StateUnpublished     State = "unpublished"
	StateAnalysisPatched State = "analysis_patched"
	StateFilesPatched    State = "files_patched"
	StatePublished       State = "published"
)

var knownStates = map[State]bool{
	StatePending:         true,
	StateUnpublished:     true,
	StateAnalysisPatched: true,
	StateFilesPatched:    true,
	StatePublished:       true,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return knownStates[s]
}

// Catalog is the subset of the SONG API the replay needs.
type Catalog interface {
	Unpublish(ctx context.Context, studyID, analysisID string) error
	UpdateAnalysis(ctx context.Context, studyID, analysisID string, payload []byte) error
	UpdateFile(ctx context.Context, studyID, analysisID, objectID string, update analysis.FileUpdate) error
	Publish(ctx context.Context, studyID, analysisID string) error
}

// ErrInvalidRecord reports a record the replay cannot address.
var ErrInvalidRecord = errors.New("invalid replay record")

// Options configures a Driver.
type Options struct {
	Catalog Catalog
	// Ledger receives a checkpoint after every step. Defaults to memory.
	Ledger ledger.Ledger
	// RunKey scopes checkpoints; typically the partition reference.
	RunKey string
	// Resume continues from stored checkpoints instead of starting over.
	Resume    bool
	AttemptID string
	Logger    *zap.Logger
	Metrics   metrics.Recorder
}

// Summary reports what a run did.
type Summary struct {
	AttemptID string
	Records   int
	Replayed  int
	// Resumed counts records continued from a partial checkpoint.
	Resumed int
	// Skipped counts records already published by an earlier attempt.
	Skipped int
	Calls   int
}

// Driver replays records strictly one at a time.
type Driver struct {
	catalog   Catalog
	ledger    ledger.Ledger
	runKey    string
	resume    bool
	attemptID string
	logger    *zap.Logger
	metrics   metrics.Recorder
	nowFn     func() time.Time
}

// New validates opts and builds a Driver.
func New(opts Options) (*Driver, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("replay: catalog required")
	}
	if opts.RunKey == "" {
		return nil, fmt.Errorf("replay: run key required")
	}
	d := &Driver{
		catalog:   opts.Catalog,
		ledger:    opts.Ledger,
		runKey:    opts.RunKey,
		resume:    opts.Resume,
		attemptID: opts.AttemptID,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	if d.ledger == nil {
		d.ledger = ledger.NewMemory()
	}
	if d.attemptID == "" {
		d.attemptID = uuid.NewString()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.metrics == nil {
		d.metrics = metrics.Nop()
	}
	return d, nil
}

// AttemptID identifies this invocation in checkpoints and logs.
func (d *Driver) AttemptID() string { return d.attemptID }

// Run replays every record read from r.
func (d *Driver) Run(ctx context.Context, r io.Reader) (Summary, error) {
	sum := Summary{AttemptID: d.attemptID}
	err := analysis.ReadLines(r, func(line int, a *analysis.Analysis) error {
		sum.Records++
		if err := d.replay(ctx, a, &sum); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		return nil
	})
	d.logger.Info("replay finished",
		zap.String("attempt", d.attemptID),
		zap.Int("records", sum.Records),
		zap.Int("replayed", sum.Replayed),
		zap.Int("resumed", sum.Resumed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("calls", sum.Calls),
		zap.Bool("aborted", err != nil),
	)
	return sum, err
}

// Replay drives a single record to published.
func (d *Driver) Replay(ctx context.Context, a *analysis.Analysis) error {
	var sum Summary
	return d.replay(ctx, a, &sum)
}

func (d *Driver) replay(ctx context.Context, a *analysis.Analysis, sum *Summary) error {
	if a.StudyID == "" || a.ID == "" {
		return fmt.Errorf("%w: studyId and analysisId are required", ErrInvalidRecord)
	}
	for i, f := range a.Files {
		if f.ObjectID == "" {
			return fmt.Errorf("%w: analysis %s file %d has no objectId", ErrInvalidRecord, a.ID, i)
		}
	}
	cp, err := d.start(ctx, a)
	if err != nil {
		return err
	}
	log := d.logger.With(zap.String("study", a.StudyID), zap.String("analysis", a.ID))
	switch {
	case State(cp.State) == StatePublished:
		log.Info("skipping analysis already published by an earlier attempt", zap.String("attempt", cp.AttemptID))
		sum.Skipped++
		d.metrics.Record(ctx, "replay", "skipped")
		return nil
	case State(cp.State) != StatePending || cp.FilesDone > 0:
		log.Info("resuming analysis", zap.String("state", cp.State), zap.Int("files_done", cp.FilesDone))
		sum.Resumed++
	default:
		log.Info("processing analysis")
	}

	cp.AttemptID = d.attemptID
	for State(cp.State) != StatePublished {
		called, err := d.step(ctx, a, &cp)
		if err != nil {
			d.metrics.Record(ctx, "replay", "failed")
			return err
		}
		if called {
			sum.Calls++
		}
		cp.UpdatedAt = d.nowFn()
		if err := d.ledger.Save(ctx, cp); err != nil {
			return fmt.Errorf("checkpoint %s: %w", a.ID, err)
		}
		log.Debug("step completed", zap.String("state", cp.State), zap.Int("files_done", cp.FilesDone))
	}
	sum.Replayed++
	d.metrics.Record(ctx, "replay", "published")
	return nil
}

// start returns the checkpoint to continue from.
func (d *Driver) start(ctx context.Context, a *analysis.Analysis) (ledger.Checkpoint, error) {
	fresh := ledger.Checkpoint{RunKey: d.runKey, AnalysisID: a.ID, StudyID: a.StudyID, State: string(StatePending)}
	if !d.resume {
		return fresh, nil
	}
	cp, err := d.ledger.Get(ctx, d.runKey, a.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return fresh, nil
	}
	if err != nil {
		return ledger.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", a.ID, err)
	}
	if !State(cp.State).Valid() {
		return ledger.Checkpoint{}, fmt.Errorf("checkpoint %s has unknown state %q", a.ID, cp.State)
	}
	if cp.FilesDone > len(a.Files) {
		return ledger.Checkpoint{}, fmt.Errorf("checkpoint %s records %d patched files but the record has %d", a.ID, cp.FilesDone, len(a.Files))
	}
	return cp, nil
}

// step moves cp out of its current state and reports whether a catalog call
// was made. Leaving analysis_patched takes one call per file plus a final
// call-free transition.
func (d *Driver) step(ctx context.Context, a *analysis.Analysis, cp *ledger.Checkpoint) (bool, error) {
	switch State(cp.State) {
	case StatePending:
		if err := d.catalog.Unpublish(ctx, a.StudyID, a.ID); err != nil {
			return true, err
		}
		cp.State = string(StateUnpublished)
	case StateUnpublished:
		payload, err := a.UpdatePayload()
		if err != nil {
			return false, fmt.Errorf("encode analysis %s: %w", a.ID, err)
		}
		if err := d.catalog.UpdateAnalysis(ctx, a.StudyID, a.ID, payload); err != nil {
			return true, err
		}
		cp.State = string(StateAnalysisPatched)
	case StateAnalysisPatched:
		if cp.FilesDone == len(a.Files) {
			cp.State = string(StateFilesPatched)
			return false, nil
		}
		f := a.Files[cp.FilesDone]
		if err := d.catalog.UpdateFile(ctx, a.StudyID, a.ID, f.ObjectID, f.UpdatePayload()); err != nil {
			return true, err
		}
		cp.FilesDone++
	case StateFilesPatched:
		if err := d.catalog.Publish(ctx, a.StudyID, a.ID); err != nil {
			return true, err
		}
		cp.State = string(StatePublished)
	default:
		return false, fmt.Errorf("no transition out of state %q", cp.State)
	}
	return true, nil
}
