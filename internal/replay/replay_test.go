package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"songmigration/internal/analysis"
	"songmigration/internal/ledger"
	"songmigration/internal/song"
)

type fakeCatalog struct {
	calls  []string
	bodies []string
	// failAt fails the nth call (1-based) with an HTTP 500 operation error.
	failAt int
}

func (f *fakeCatalog) record(op song.Operation, study, id, object string, body string) error {
	call := fmt.Sprintf("%s %s/%s", op, study, id)
	if object != "" {
		call += "/" + object
	}
	f.calls = append(f.calls, call)
	f.bodies = append(f.bodies, body)
	if f.failAt == len(f.calls) {
		return &song.OperationError{Operation: op, StudyID: study, AnalysisID: id, ObjectID: object, StatusCode: 500}
	}
	return nil
}

func (f *fakeCatalog) Unpublish(_ context.Context, study, id string) error {
	return f.record(song.OpUnpublish, study, id, "", "")
}

func (f *fakeCatalog) UpdateAnalysis(_ context.Context, study, id string, payload []byte) error {
	return f.record(song.OpUpdateAnalysis, study, id, "", string(payload))
}

func (f *fakeCatalog) UpdateFile(_ context.Context, study, id, objectID string, update analysis.FileUpdate) error {
	return f.record(song.OpUpdateFile, study, id, objectID, update.DataType)
}

func (f *fakeCatalog) Publish(_ context.Context, study, id string) error {
	return f.record(song.OpPublish, study, id, "", "")
}

const twoRecords = `{"analysisId":"A1","studyId":"PACA-CA","analysisType":{"name":"qc_metrics"},"info":{"origin":"ICGC-25K"},"samples":[{"sampleId":"SA1"}],"files":[{"objectId":"O1","dataType":"Aligned Reads QC","info":{"data_category":"Quality Control Metrics"}},{"objectId":"O2","dataType":"Sample QC","info":{}}]}
{"analysisId":"A2","studyId":"PACA-CA","analysisType":{"name":"variant_calling"},"info":{"origin":"ICGC-25K"},"files":[]}
`

func newDriver(t *testing.T, cat Catalog, l ledger.Ledger, resume bool) *Driver {
	t.Helper()
	d, err := New(Options{Catalog: cat, Ledger: l, RunKey: "migrate_qc_metrics.jsonl", Resume: resume})
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return d
}

func TestRunCallOrder(t *testing.T) {
	cat := &fakeCatalog{}
	sum, err := newDriver(t, cat, nil, false).Run(context.Background(), strings.NewReader(twoRecords))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{
		"analysis_unpublish PACA-CA/A1",
		"analysis_update PACA-CA/A1",
		"file_update PACA-CA/A1/O1",
		"file_update PACA-CA/A1/O2",
		"analysis_publish PACA-CA/A1",
		"analysis_unpublish PACA-CA/A2",
		"analysis_update PACA-CA/A2",
		"analysis_publish PACA-CA/A2",
	}
	if diff := cmp.Diff(want, cat.calls); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
	if cat.bodies[1] != `{"analysisType":{"name":"qc_metrics"},"info":{"origin":"ICGC-25K"}}` {
		t.Fatalf("unexpected analysis payload %s", cat.bodies[1])
	}
	if sum.Records != 2 || sum.Replayed != 2 || sum.Calls != 8 || sum.AttemptID == "" {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	cat := &fakeCatalog{failAt: 2}
	_, err := newDriver(t, cat, nil, false).Run(context.Background(), strings.NewReader(twoRecords))
	var opErr *song.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != song.OpUpdateAnalysis || opErr.AnalysisID != "A1" {
		t.Fatalf("expected analysis_update error for A1, got %v", err)
	}
	if len(cat.calls) != 2 {
		t.Fatalf("no file update or publish may follow a failed call, got %v", cat.calls)
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("error must name the line: %v", err)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	first := &fakeCatalog{failAt: 4} // second file update of A1
	if _, err := newDriver(t, first, l, false).Run(ctx, strings.NewReader(twoRecords)); err == nil {
		t.Fatalf("expected failure")
	}
	cp, err := l.Get(ctx, "migrate_qc_metrics.jsonl", "A1")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.State != string(StateAnalysisPatched) || cp.FilesDone != 1 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}

	second := &fakeCatalog{}
	sum, err := newDriver(t, second, l, true).Run(ctx, strings.NewReader(twoRecords))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	want := []string{
		"file_update PACA-CA/A1/O2",
		"analysis_publish PACA-CA/A1",
		"analysis_unpublish PACA-CA/A2",
		"analysis_update PACA-CA/A2",
		"analysis_publish PACA-CA/A2",
	}
	if diff := cmp.Diff(want, second.calls); diff != "" {
		t.Fatalf("resume calls mismatch (-want +got):\n%s", diff)
	}
	if sum.Resumed != 1 || sum.Replayed != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	third := &fakeCatalog{}
	sum, err = newDriver(t, third, l, true).Run(ctx, strings.NewReader(twoRecords))
	if err != nil || len(third.calls) != 0 || sum.Skipped != 2 {
		t.Fatalf("published records must be skipped on resume: %v %v %+v", err, third.calls, sum)
	}
}

func TestRunWithoutResumeStartsOver(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	if _, err := newDriver(t, &fakeCatalog{}, l, false).Run(ctx, strings.NewReader(twoRecords)); err != nil {
		t.Fatalf("run: %v", err)
	}
	again := &fakeCatalog{}
	if _, err := newDriver(t, again, l, false).Run(ctx, strings.NewReader(twoRecords)); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(again.calls) != 8 {
		t.Fatalf("expected a full replay, got %v", again.calls)
	}
}

func TestRunRejectsBadRecords(t *testing.T) {
	cases := map[string]string{
		"missing study":  `{"analysisId":"A1","files":[]}`,
		"missing object": `{"analysisId":"A1","studyId":"S","files":[{"dataType":"x"}]}`,
	}
	for name, line := range cases {
		cat := &fakeCatalog{}
		_, err := newDriver(t, cat, nil, false).Run(context.Background(), strings.NewReader(line+"\n"))
		if !errors.Is(err, ErrInvalidRecord) || len(cat.calls) != 0 {
			t.Fatalf("%s: expected ErrInvalidRecord before any call, got %v %v", name, err, cat.calls)
		}
	}
	_, err := newDriver(t, &fakeCatalog{}, nil, false).Run(context.Background(), strings.NewReader("{oops\n"))
	if err == nil || !strings.HasPrefix(err.Error(), "line 1:") {
		t.Fatalf("expected malformed line error, got %v", err)
	}
}

func TestResumeRejectsInconsistentCheckpoint(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	_ = l.Save(ctx, ledger.Checkpoint{RunKey: "migrate_qc_metrics.jsonl", AnalysisID: "A2", State: string(StateAnalysisPatched), FilesDone: 3})
	_, err := newDriver(t, &fakeCatalog{}, l, true).Run(ctx, strings.NewReader(twoRecords))
	if err == nil || !strings.Contains(err.Error(), "patched files") {
		t.Fatalf("expected checkpoint mismatch, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{RunKey: "x"}); err == nil {
		t.Fatalf("expected catalog error")
	}
	if _, err := New(Options{Catalog: &fakeCatalog{}}); err == nil {
		t.Fatalf("expected run key error")
	}
	d, err := New(Options{Catalog: &fakeCatalog{}, RunKey: "x", AttemptID: "fixed"})
	if err != nil || d.AttemptID() != "fixed" {
		t.Fatalf("unexpected driver %v %v", d, err)
	}
}
