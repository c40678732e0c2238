// Package worksheet joins the legacy-to-ARGO analysis ID mapping of a SONG
// import report with an ICGC summary table into the tracking worksheet.
package worksheet

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// ErrInvalidReport is returned for reports without a usable success list.
var ErrInvalidReport = errors.New("invalid import report")

// Mapping maps legacy analysis IDs to target analysis IDs, keeping the order
// in which legacy IDs were first seen.
type Mapping struct {
	order   []string
	targets map[string]string
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{targets: make(map[string]string)}
}

// Set maps legacy to target. A later Set for the same legacy ID replaces the
// target but keeps the original position.
func (m *Mapping) Set(legacy, target string) {
	if _, ok := m.targets[legacy]; !ok {
		m.order = append(m.order, legacy)
	}
	m.targets[legacy] = target
}

// Lookup returns the target for legacy.
func (m *Mapping) Lookup(legacy string) (string, bool) {
	t, ok := m.targets[legacy]
	return t, ok
}

// Len returns the number of legacy IDs.
func (m *Mapping) Len() int { return len(m.order) }

// WriteTSV writes one "legacy\ttarget" line per legacy ID.
func (m *Mapping) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, legacy := range m.order {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", legacy, m.targets[legacy]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseReport builds the mapping from the success entries of an import
// report: {"success": [{"legacyAnalysisIds": [...], "targetAnalysisId": "..."}]}.
func ParseReport(data []byte) (*Mapping, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidReport)
	}
	success := gjson.GetBytes(data, "success")
	if !success.IsArray() {
		return nil, fmt.Errorf("%w: success must be an array", ErrInvalidReport)
	}
	m := NewMapping()
	var err error
	success.ForEach(func(idx, entry gjson.Result) bool {
		target := entry.Get("targetAnalysisId")
		if target.Type != gjson.String || target.String() == "" {
			err = fmt.Errorf("%w: success[%d] has no targetAnalysisId", ErrInvalidReport, idx.Int())
			return false
		}
		legacy := entry.Get("legacyAnalysisIds")
		if !legacy.IsArray() {
			err = fmt.Errorf("%w: success[%d] has no legacyAnalysisIds", ErrInvalidReport, idx.Int())
			return false
		}
		for _, id := range legacy.Array() {
			m.Set(id.String(), target.String())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
