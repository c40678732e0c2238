package rules

import "songmigration/internal/analysis"

// NewSequencingAlignmentRule returns the sequencing_alignment rule. It never
// rewrites values; it flags records that have a file without a filled
// data_category or analysis_tools so they are replayed with the origin marker.
func NewSequencingAlignmentRule() Rule {
	return sequencingAlignmentRule{}
}

type sequencingAlignmentRule struct{}

func (sequencingAlignmentRule) Name() analysis.TypeName { return analysis.TypeSequencingAlignment }

func (sequencingAlignmentRule) Apply(a *analysis.Analysis) bool {
	for _, f := range a.Files {
		if !f.Info.Filled(analysis.KeyDataCategory) || !f.Info.Filled(analysis.KeyAnalysisTools) {
			return true
		}
	}
	return false
}
