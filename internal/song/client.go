// Package song is a minimal client for the SONG catalog endpoints used by the
// replay stage: unpublish, analysis update, file update and publish.
package song

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethgrid/pester"
	"go.uber.org/zap"

	"songmigration/internal/analysis"
	"songmigration/internal/metrics"
)

// Operation names a catalog call in errors, logs and metrics.
type Operation string

const (
	OpUnpublish      Operation = "analysis_unpublish"
	OpUpdateAnalysis Operation = "analysis_update"
	OpUpdateFile     Operation = "file_update"
	OpPublish        Operation = "analysis_publish"
)

// OperationError reports a failed catalog call. StatusCode is zero when the
// request never produced a response.
type OperationError struct {
	Operation  Operation
	StudyID    string
	AnalysisID string
	ObjectID   string
	StatusCode int
	Err        error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SONG %s failed for study %s analysis %s", e.Operation, e.StudyID, e.AnalysisID)
	if e.ObjectID != "" {
		fmt.Fprintf(&b, " file %s", e.ObjectID)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *OperationError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Delay is slept before every call.
	Delay   time.Duration
	Timeout time.Duration
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zap.Logger
	Metrics     metrics.Recorder
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Client issues catalog calls one at a time.
type Client struct {
	base      string
	token     string
	delay     time.Duration
	http      *pester.Client
	transport *http.Transport
	logger    *zap.Logger
	metrics   metrics.Recorder
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid SONG base url %q", opts.BaseURL)
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("SONG token required")
	}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop()
	}

	c := &Client{base: base, token: opts.Token, delay: opts.Delay, logger: logger, metrics: rec}
	hc := pester.New()
	hc.Concurrency = 1
	hc.MaxRetries = attempts
	hc.RetryOnHTTP429 = true
	hc.Timeout = opts.Timeout
	backoff := opts.Backoff
	hc.Backoff = func(retry int) time.Duration { return time.Duration(retry) * backoff }
	hc.LogHook = func(e pester.ErrEntry) {
		logger.Warn("SONG call attempt failed",
			zap.String("method", e.Method),
			zap.String("url", e.URL),
			zap.Int("attempt", e.Attempt),
			zap.Error(e.Err),
		)
	}
	if opts.Transport != nil {
		hc.Transport = opts.Transport
	} else {
		c.transport = http.DefaultTransport.(*http.Transport).Clone()
		hc.Transport = c.transport
	}
	c.http = hc
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
}

// Unpublish moves the analysis out of the PUBLISHED state.
func (c *Client) Unpublish(ctx context.Context, studyID, analysisID string) error {
	call := c.call(OpUnpublish, studyID, analysisID, "")
	return c.put(ctx, call, c.endpoint("studies", studyID, "analysis", "unpublish", analysisID), nil)
}

// UpdateAnalysis replaces the dynamic portion of the analysis document.
func (c *Client) UpdateAnalysis(ctx context.Context, studyID, analysisID string, payload []byte) error {
	call := c.call(OpUpdateAnalysis, studyID, analysisID, "")
	return c.put(ctx, call, c.endpoint("studies", studyID, "analysis", analysisID), payload)
}

// UpdateFile patches one file's dataType and info.
func (c *Client) UpdateFile(ctx context.Context, studyID, analysisID, objectID string, update analysis.FileUpdate) error {
	call := c.call(OpUpdateFile, studyID, analysisID, objectID)
	body, err := json.Marshal(update)
	if err != nil {
		call.Err = fmt.Errorf("encode payload: %w", err)
		return call
	}
	return c.put(ctx, call, c.endpoint("studies", studyID, "files", objectID), body)
}

// Publish returns the analysis to the PUBLISHED state.
func (c *Client) Publish(ctx context.Context, studyID, analysisID string) error {
	call := c.call(OpPublish, studyID, analysisID, "")
	return c.put(ctx, call, c.endpoint("studies", studyID, "analysis", "publish", analysisID), nil)
}

func (c *Client) call(op Operation, studyID, analysisID, objectID string) *OperationError {
	return &OperationError{Operation: op, StudyID: studyID, AnalysisID: analysisID, ObjectID: objectID}
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base + "/" + strings.Join(escaped, "/")
}

func (c *Client) put(ctx context.Context, call *OperationError, endpoint string, body []byte) error {
	start := time.Now()
	err := c.do(ctx, call, endpoint, body)
	c.metrics.Observe(ctx, string(call.Operation), err == nil, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, call *OperationError, endpoint string, body []byte) error {
	if err := sleep(ctx, c.delay); err != nil {
		call.Err = err
		return call
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, rdr)
	if err != nil {
		call.Err = fmt.Errorf("build request: %w", err)
		return call
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("SONG call", zap.String("operation", string(call.Operation)), zap.String("url", endpoint))
	resp, err := c.http.Do(req)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	if err != nil {
		if resp != nil {
			call.StatusCode = resp.StatusCode
		}
		call.Err = err
		return call
	}
	if resp.StatusCode != http.StatusOK {
		call.StatusCode = resp.StatusCode
		return call
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
