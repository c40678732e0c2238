package rules

import "songmigration/internal/analysis"

// NewQCMetricsRule returns the qc_metrics remapping: dataType and data_subtype
// from QCDataTypes, tool names from QCTools and descriptions from QCDescriptions.
func NewQCMetricsRule() Rule {
	return qcMetricsRule{}
}

type qcMetricsRule struct{}

func (qcMetricsRule) Name() analysis.TypeName { return analysis.TypeQCMetrics }

func (qcMetricsRule) Apply(a *analysis.Analysis) bool {
	changed := false
	for i := range a.Files {
		if rewriteQCFile(&a.Files[i]) {
			changed = true
		}
	}
	return changed
}

func rewriteQCFile(f *analysis.File) bool {
	info := f.Info
	if !info.Filled(analysis.KeyDataCategory) || !info.Filled(analysis.KeyAnalysisTools) || !info.Filled(analysis.KeyDescription) {
		return false
	}
	if category, _ := info.String(analysis.KeyDataCategory); category != CategoryQualityControlMetrics {
		return false
	}
	changed := false
	if target, ok := QCDataTypes[DataType(f.DataType)]; ok {
		f.DataType = string(target.DataType)
		info.Set(analysis.KeyDataSubtype, target.Subtypes)
		changed = true
	}
	if rewriteTools(info, QCTools) {
		changed = true
	}
	if desc, ok := info.String(analysis.KeyDescription); ok {
		if next, ok := QCDescriptions[desc]; ok {
			info.Set(analysis.KeyDescription, next)
			changed = true
		}
	}
	return changed
}
