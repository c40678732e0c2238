// Package memory implements an in-process checkpoint ledger. Checkpoints do
// not survive the process, so --resume only helps within one invocation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"songmigration/internal/ledger/core"
)

type key struct{ run, analysis string }

// Ledger implements core.Ledger in memory.
type Ledger struct {
	mu    sync.RWMutex
	items map[key]core.Checkpoint
	nowFn func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{items: make(map[key]core.Checkpoint), nowFn: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) Driver() core.Driver { return core.DriverMemory }

func (l *Ledger) Get(_ context.Context, runKey, analysisID string) (core.Checkpoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp, ok := l.items[key{runKey, analysisID}]
	if !ok {
		return core.Checkpoint{}, fmt.Errorf("%w: %s/%s", core.ErrNotFound, runKey, analysisID)
	}
	return cp, nil
}

func (l *Ledger) Save(_ context.Context, cp core.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = l.nowFn()
	}
	l.mu.Lock()
	l.items[key{cp.RunKey, cp.AnalysisID}] = cp
	l.mu.Unlock()
	return nil
}

func (l *Ledger) List(_ context.Context, runKey string) ([]core.Checkpoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Checkpoint, 0)
	for k, cp := range l.items {
		if k.run == runKey {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnalysisID < out[j].AnalysisID })
	return out, nil
}

func (l *Ledger) Close() error { return nil }
