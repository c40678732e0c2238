package song

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"songmigration/internal/analysis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordedCall struct {
	Method string
	Path   string
	Auth   string
	CT     string
	Accept string
	Body   string
}

type catalogFake struct {
	mu     sync.Mutex
	calls  []recordedCall
	status func(path string, n int) int
}

func (f *catalogFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		Method: r.Method, Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization"),
		CT: r.Header.Get("Content-Type"), Accept: r.Header.Get("Accept"), Body: string(b),
	})
	n := len(f.calls)
	f.mu.Unlock()
	status := http.StatusOK
	if f.status != nil {
		status = f.status(r.URL.Path, n)
	}
	w.WriteHeader(status)
}

func newClient(t *testing.T, fake *catalogFake, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL + "/"
	if opts.Token == "" {
		opts.Token = "tok"
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestClientCallShapes(t *testing.T) {
	ctx := context.Background()
	fake := &catalogFake{}
	c := newClient(t, fake, Options{})

	if err := c.Unpublish(ctx, "PACA-CA", "A1"); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if err := c.UpdateAnalysis(ctx, "PACA-CA", "A1", []byte(`{"info":{"origin":"ICGC-25K"}}`)); err != nil {
		t.Fatalf("update analysis: %v", err)
	}
	f := analysis.File{ObjectID: "O1", DataType: "Aligned Reads QC", Info: analysis.Info{}}
	f.Info.Set(analysis.KeyDataSubtype, []string{"Alignment Metrics"})
	f.Info.Set(analysis.KeyDataCategory, "Quality Control Metrics")
	if err := c.UpdateFile(ctx, "PACA-CA", "A1", "O1", f.UpdatePayload()); err != nil {
		t.Fatalf("update file: %v", err)
	}
	if err := c.Publish(ctx, "PACA-CA", "A1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	want := []recordedCall{
		{Method: "PUT", Path: "/studies/PACA-CA/analysis/unpublish/A1"},
		{Method: "PUT", Path: "/studies/PACA-CA/analysis/A1", Body: `{"info":{"origin":"ICGC-25K"}}`},
		{Method: "PUT", Path: "/studies/PACA-CA/files/O1", Body: `{"dataType":"Aligned Reads QC","info":{"data_subtypes":["Alignment Metrics"],"analysis_tools":null,"data_category":"Quality Control Metrics","description":null}}`},
		{Method: "PUT", Path: "/studies/PACA-CA/analysis/publish/A1"},
	}
	for i := range want {
		want[i].Auth = "Bearer tok"
		want[i].CT = "application/json"
		want[i].Accept = "application/json"
	}
	if diff := cmp.Diff(want, fake.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestClientNon200IsOperationError(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusNotFound, http.StatusInternalServerError} {
		fake := &catalogFake{status: func(string, int) int { return status }}
		c := newClient(t, fake, Options{})
		err := c.UpdateAnalysis(context.Background(), "S", "A", []byte(`{}`))
		var opErr *OperationError
		if !errors.As(err, &opErr) {
			t.Fatalf("status %d: expected OperationError, got %v", status, err)
		}
		if opErr.Operation != OpUpdateAnalysis || opErr.StudyID != "S" || opErr.AnalysisID != "A" {
			t.Fatalf("unexpected error fields %+v", opErr)
		}
		if !strings.Contains(err.Error(), "analysis_update") {
			t.Fatalf("error must name the operation: %v", err)
		}
		if len(fake.calls) != 1 {
			t.Fatalf("status %d: expected a single attempt, got %d", status, len(fake.calls))
		}
	}
}

func TestClientRetriesWhenAllowed(t *testing.T) {
	fake := &catalogFake{status: func(_ string, n int) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}}
	c := newClient(t, fake, Options{MaxAttempts: 3, Backoff: time.Millisecond})
	if err := c.Publish(context.Background(), "S", "A"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fake.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(fake.calls))
	}
}

func TestClientTransportError(t *testing.T) {
	c, err := New(Options{BaseURL: "http://127.0.0.1:1", Token: "tok"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	err = c.Unpublish(context.Background(), "S", "A")
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.StatusCode != 0 || opErr.Err == nil {
		t.Fatalf("expected transport OperationError, got %#v", err)
	}
}

func TestClientDelayHonoursContext(t *testing.T) {
	fake := &catalogFake{}
	c := newClient(t, fake, Options{Delay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Unpublish(ctx, "S", "A")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("no call may be issued after cancellation")
	}
}

func TestClientDelayPrecedesCall(t *testing.T) {
	fake := &catalogFake{}
	c := newClient(t, fake, Options{Delay: 30 * time.Millisecond})
	start := time.Now()
	if err := c.Publish(context.Background(), "S", "A"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("delay not applied")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{BaseURL: "not a url", Token: "t"}); err == nil {
		t.Fatalf("expected url error")
	}
	if _, err := New(Options{BaseURL: "https://song.example.org"}); err == nil {
		t.Fatalf("expected token error")
	}
}

func TestEndpointEscapesSegments(t *testing.T) {
	c, _ := New(Options{BaseURL: "https://song.example.org/", Token: "t"})
	defer c.Close()
	got := c.endpoint("studies", "A B", "files", "x/y")
	if got != "https://song.example.org/studies/A%20B/files/x%2Fy" {
		t.Fatalf("unexpected endpoint %s", got)
	}
}

func TestOperationErrorMessage(t *testing.T) {
	err := &OperationError{Operation: OpUpdateFile, StudyID: "S", AnalysisID: "A", ObjectID: "O", StatusCode: 500}
	if err.Error() != "SONG file_update failed for study S analysis A file O: HTTP status 500" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
