package rules

import "songmigration/internal/analysis"

// NewVariantCallingRule returns the variant_calling remapping, which only
// namespaces the Mutect2 tool on SNV files.
func NewVariantCallingRule() Rule {
	return variantCallingRule{}
}

type variantCallingRule struct{}

func (variantCallingRule) Name() analysis.TypeName { return analysis.TypeVariantCalling }

func (variantCallingRule) Apply(a *analysis.Analysis) bool {
	changed := false
	for _, f := range a.Files {
		info := f.Info
		if !info.Filled(analysis.KeyDataCategory) || !info.Filled(analysis.KeyAnalysisTools) {
			continue
		}
		if category, _ := info.String(analysis.KeyDataCategory); category != CategorySimpleNucleotideVariation {
			continue
		}
		if rewriteTools(info, VariantCallingTools) {
			changed = true
		}
	}
	return changed
}
