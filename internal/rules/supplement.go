package rules

import (
	"strings"

	"songmigration/internal/analysis"
)

// NewVariantCallingSupplementRule returns the variant_calling_supplement
// remapping keyed on archive file name suffix.
func NewVariantCallingSupplementRule() Rule {
	return supplementRule{}
}

type supplementRule struct{}

func (supplementRule) Name() analysis.TypeName { return analysis.TypeVariantCallingSupplement }

func (supplementRule) Apply(a *analysis.Analysis) bool {
	changed := false
	for i := range a.Files {
		if rewriteSupplementFile(&a.Files[i]) {
			changed = true
		}
	}
	return changed
}

func supplementSuffix(name string) (SupplementSuffix, bool) {
	for _, s := range supplementOrder {
		if strings.HasSuffix(name, string(s)) {
			return s, true
		}
	}
	return "", false
}

func rewriteSupplementFile(f *analysis.File) bool {
	if len(f.Info) == 0 {
		return false
	}
	suffix, ok := supplementSuffix(f.FileName)
	if !ok {
		return false
	}
	if suffix == SuffixTimings {
		if f.Info.Filled(analysis.KeyDataSubtype) {
			return false
		}
		f.DataType = string(timingsDataType)
		f.Info.Set(analysis.KeyDataCategory, CategoryQualityControlMetrics)
		f.Info.Set(analysis.KeyDataSubtype, timingsSubtypes)
		f.Info.Set(analysis.KeyAnalysisTools, nil)
		return true
	}
	if DataType(f.DataType) != VariantCallingSupplement {
		return false
	}
	f.DataType = string(SupplementDataTypes[suffix])
	return true
}
