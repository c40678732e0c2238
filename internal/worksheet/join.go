package worksheet

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Header is the fixed worksheet header.
var Header = []string{
	"submitter_donor_id",
	"submitter_sample_id",
	"tumour_normal_designation",
	"sequencing_strategy",
	"donor_id",
	"sample_id",
	"study_id",
	"analysis_id",
}

// Summary table columns read by the join.
const (
	colBundleID          = "bundle_id"
	colSubmitterDonorID  = "submitter_donor_id"
	colSubmitterSampleID = "submitter_sample_id"
	colSpecimenType      = "specimen_type"
	colSequencing        = "sequencing_strategy"
	colDonorID           = "donor_id/donor_count"
	colSampleID          = "dcc_sample_id"
	colStudyID           = "project_id/project_count"
)

var requiredColumns = []string{colBundleID, colSubmitterDonorID, colSubmitterSampleID, colSpecimenType, colSequencing, colDonorID, colSampleID, colStudyID}

// Policy decides the designation of rows whose specimen type names neither
// tumour nor normal.
type Policy string

const (
	// PolicyEmpty leaves the designation blank.
	PolicyEmpty Policy = "empty"
	// PolicyCarry reuses the designation of the previous emitted row. It is
	// the default.
	PolicyCarry Policy = "carry"
	// PolicyError aborts the join.
	PolicyError Policy = "error"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case PolicyEmpty, PolicyCarry, PolicyError:
		return p, nil
	}
	return "", fmt.Errorf("unknown designation policy %q (valid: empty, carry, error)", s)
}

var (
	// ErrNoDesignation reports a specimen type that cannot be designated.
	ErrNoDesignation = errors.New("specimen type is neither tumour nor normal")
	// ErrMissingColumn reports a summary table without a required column.
	ErrMissingColumn = errors.New("summary table is missing a column")
)

var (
	tumourPattern = regexp.MustCompile(`(?i)tumour`)
	normalPattern = regexp.MustCompile(`(?i)normal`)
)

// Designation derives "tumour" or "normal" from a specimen type. "normal"
// wins when both match.
func Designation(specimenType string) (string, bool) {
	switch {
	case normalPattern.MatchString(specimenType):
		return "normal", true
	case tumourPattern.MatchString(specimenType):
		return "tumour", true
	}
	return "", false
}

// Options configures Join.
type Options struct {
	Policy Policy
	Logger *zap.Logger
}

// Stats counts what a join did.
type Stats struct {
	Rows         int
	Emitted      int
	Unmapped     int
	Duplicates   int
	Undesignated int
}

// Join streams the tab-separated summary table and writes the worksheet to
// out: the header, then one row per mapped bundle_id in table order. Each
// bundle_id is emitted at most once.
func Join(m *Mapping, summary io.Reader, out io.Writer, opts Options) (Stats, error) {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyCarry
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := csv.NewReader(summary)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("read summary header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return Stats{}, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	field := func(rec []string, col string) string {
		if i := index[col]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	w := bufio.NewWriter(out)
	if _, err := w.WriteString(strings.Join(Header, "\t") + "\n"); err != nil {
		return Stats{}, err
	}
	var stats Stats
	processed := make(map[string]struct{})
	previous := ""
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read summary: %w", err)
		}
		stats.Rows++
		bundle := field(rec, colBundleID)
		target, ok := m.Lookup(bundle)
		if !ok {
			stats.Unmapped++
			continue
		}
		if _, seen := processed[bundle]; seen {
			stats.Duplicates++
			continue
		}
		processed[bundle] = struct{}{}

		specimen := field(rec, colSpecimenType)
		designation, ok := Designation(specimen)
		if !ok {
			stats.Undesignated++
			switch policy {
			case PolicyError:
				return stats, fmt.Errorf("bundle %s: %w: %q", bundle, ErrNoDesignation, specimen)
			case PolicyCarry:
				if previous == "" {
					return stats, fmt.Errorf("bundle %s: %w: %q and no previous row to carry from", bundle, ErrNoDesignation, specimen)
				}
				designation = previous
				logger.Warn("specimen type not designated, carrying previous value",
					zap.String("bundle_id", bundle), zap.String("specimen_type", specimen), zap.String("designation", designation))
			default:
				logger.Warn("specimen type not designated, leaving blank",
					zap.String("bundle_id", bundle), zap.String("specimen_type", specimen))
			}
		}
		previous = designation

		logger.Debug("joining bundle", zap.String("bundle_id", bundle), zap.String("analysis_id", target))
		row := []string{
			field(rec, colSubmitterDonorID),
			field(rec, colSubmitterSampleID),
			designation,
			field(rec, colSequencing),
			field(rec, colDonorID),
			field(rec, colSampleID),
			field(rec, colStudyID),
			target,
		}
		if _, err := w.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return stats, err
		}
		stats.Emitted++
	}
	return stats, w.Flush()
}
