package rules

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"songmigration/internal/analysis"
)

func record(t *testing.T, typ analysis.TypeName, files ...string) *analysis.Analysis {
	t.Helper()
	raw := `{"analysisId":"a-1","studyId":"PACA-CA","analysisState":"PUBLISHED","analysisType":{"name":"` + string(typ) + `","version":3},"createdAt":"x","files":[`
	for i, f := range files {
		if i > 0 {
			raw += ","
		}
		raw += f
	}
	raw += `]}`
	var a analysis.Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &a
}

func strs(t *testing.T, info analysis.Info, key string) []string {
	t.Helper()
	v, _ := info.Strings(key)
	return v
}

func TestTransformSkipsUnpublished(t *testing.T) {
	engine := NewDefaultEngine()
	for _, state := range []string{"UNPUBLISHED", "SUPPRESSED", ""} {
		a := record(t, analysis.TypeSequencingAlignment, `{"fileName":"x.bam"}`)
		a.State = analysis.State(state)
		if res := engine.Transform(a); res.Skip != SkipNotPublished {
			t.Fatalf("state %q: skip = %q", state, res.Skip)
		}
	}
}

func TestTransformSkipsAlreadyMigrated(t *testing.T) {
	engine := NewDefaultEngine()
	for _, typ := range analysis.KnownTypes {
		a := record(t, typ, `{"fileName":"x.timings-supplement.tgz","dataType":"Alignment QC","info":{"data_category":"Quality Control Metrics"}}`)
		a.Info = analysis.Info{}
		a.Info.Set(analysis.KeyOrigin, analysis.Origin)
		if res := engine.Transform(a); res.Skip != SkipAlreadyMigrated {
			t.Fatalf("%s: skip = %q", typ, res.Skip)
		}
	}
}

func TestTransformDropsUnknownType(t *testing.T) {
	a := record(t, "read_group_ubam", `{"fileName":"x.bam"}`)
	if res := NewDefaultEngine().Transform(a); res.Skip != SkipUnknownType || res.Retained() {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTransformMarksRetainedRecord(t *testing.T) {
	a := record(t, analysis.TypeQCMetrics, `{"fileName":"x.tgz","dataType":"Alignment QC","info":{"data_category":"Quality Control Metrics","analysis_tools":["bas_stats"],"description":"d"}}`)
	a.Info = analysis.Info{"legacy": json.RawMessage(`1`)}
	res := NewDefaultEngine().Transform(a)
	if !res.Retained() || res.Partition != analysis.TypeQCMetrics {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff(analysis.Info{"origin": json.RawMessage(`"ICGC-25K"`)}, a.Info); diff != "" {
		t.Fatalf("info mismatch (-want +got):\n%s", diff)
	}
	if a.State != "" || a.Type.Version != nil {
		t.Fatalf("bookkeeping not stripped: %+v", a)
	}
	if _, ok := a.Extra["createdAt"]; ok {
		t.Fatalf("createdAt not stripped")
	}
}

func TestTransformUnchangedRecordIsSkipped(t *testing.T) {
	a := record(t, analysis.TypeVariantCalling, `{"fileName":"x.vcf.gz","dataType":"Raw SNV Calls","info":{"data_category":"Simple Nucleotide Variation","analysis_tools":["CaVEMan"]}}`)
	if res := NewDefaultEngine().Transform(a); res.Skip != SkipUnchanged {
		t.Fatalf("skip = %q", res.Skip)
	}
}

func TestQCDataTypeTable(t *testing.T) {
	if len(QCDataTypes) != 10 {
		t.Fatalf("expected 10 dataType entries, got %d", len(QCDataTypes))
	}
	for legacy, target := range QCDataTypes {
		t.Run(string(legacy), func(t *testing.T) {
			a := record(t, analysis.TypeQCMetrics, `{"fileName":"f","dataType":"`+string(legacy)+`","info":{"data_category":"Quality Control Metrics","analysis_tools":["other"],"description":"d"}}`)
			if !NewQCMetricsRule().Apply(a) {
				t.Fatalf("expected change")
			}
			f := a.Files[0]
			if f.DataType != string(target.DataType) {
				t.Fatalf("dataType = %s", f.DataType)
			}
			if diff := cmp.Diff(target.Subtypes, strs(t, f.Info, analysis.KeyDataSubtype)); diff != "" {
				t.Fatalf("subtype mismatch (-want +got):\n%s", diff)
			}
			if _, legacyTarget := QCDataTypes[target.DataType]; legacyTarget {
				t.Fatalf("revised dataType %s must not be a legacy key", target.DataType)
			}
		})
	}
}

func TestQCDataTypeIdempotent(t *testing.T) {
	for legacy := range QCDataTypes {
		f := analysis.File{FileName: "f", DataType: string(legacy), Info: analysis.Info{}}
		f.Info.Set(analysis.KeyDataCategory, CategoryQualityControlMetrics)
		f.Info.Set(analysis.KeyAnalysisTools, []string{"other"})
		f.Info.Set(analysis.KeyDescription, "d")
		rewriteQCFile(&f)
		onceType, onceSub := f.DataType, strs(t, f.Info, analysis.KeyDataSubtype)
		if rewriteQCFile(&f) {
			t.Fatalf("%s: second pass reported a change", legacy)
		}
		if f.DataType != onceType || !cmp.Equal(onceSub, strs(t, f.Info, analysis.KeyDataSubtype)) {
			t.Fatalf("%s: second pass altered dataType or subtype", legacy)
		}
	}
}

func TestQCToolTable(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"GATK-CalculateContamination", "GATK:CalculateContamination"},
		{"GATK-FilterMutectCalls", "GATK:FilterMutectCalls"},
		{"GATK-Mutect2", "GATK:Mutect2"},
		{"bas_stats", "Sanger:bam_stats"},
		{"compareBamGenotypes", "Sanger:compareBamGenotypes"},
		{"verifyBamHomChk", "Sanger:verifyBamHomChk"},
		{"Picard:CollectOxoGMetrics", "Picard:CollectOxoGMetrics"},
	}
	for _, tc := range tests {
		a := record(t, analysis.TypeQCMetrics, `{"fileName":"f","dataType":"Sample QC","info":{"data_category":"Quality Control Metrics","analysis_tools":["keep","`+tc.in+`"],"description":"d"}}`)
		changed := NewQCMetricsRule().Apply(a)
		if changed != (tc.in != tc.want) {
			t.Fatalf("%s: changed = %v", tc.in, changed)
		}
		if diff := cmp.Diff([]string{"keep", tc.want}, strs(t, a.Files[0].Info, analysis.KeyAnalysisTools)); diff != "" {
			t.Fatalf("%s: tools mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestQCDescription(t *testing.T) {
	a := record(t, analysis.TypeQCMetrics, `{"fileName":"f","dataType":"Aligned Reads QC","info":{"data_category":"Quality Control Metrics","analysis_tools":["x"],"description":"Alignment QC metrics generated by Sanger bas_stats.pl script"}}`)
	if !NewQCMetricsRule().Apply(a) {
		t.Fatalf("expected change")
	}
	if got, _ := a.Files[0].Info.String(analysis.KeyDescription); got != "Alignment QC metrics generated by Sanger bam_stats script" {
		t.Fatalf("description = %q", got)
	}
}

func TestQCPrerequisites(t *testing.T) {
	files := []string{
		`{"fileName":"f","dataType":"Alignment QC"}`,
		`{"fileName":"f","dataType":"Alignment QC","info":{"analysis_tools":["bas_stats"],"description":"d"}}`,
		`{"fileName":"f","dataType":"Alignment QC","info":{"data_category":"Quality Control Metrics","description":"d"}}`,
		`{"fileName":"f","dataType":"Alignment QC","info":{"data_category":"Quality Control Metrics","analysis_tools":[],"description":"d"}}`,
		`{"fileName":"f","dataType":"Alignment QC","info":{"data_category":"Quality Control Metrics","analysis_tools":["bas_stats"]}}`,
		`{"fileName":"f","dataType":"Alignment QC","info":{"data_category":"Sequencing Reads","analysis_tools":["bas_stats"],"description":"d"}}`,
	}
	for _, f := range files {
		a := record(t, analysis.TypeQCMetrics, f)
		if NewQCMetricsRule().Apply(a) {
			t.Fatalf("expected %s to be skipped", f)
		}
		if a.Files[0].DataType != "Alignment QC" {
			t.Fatalf("skipped file was altered: %s", f)
		}
	}
}

func TestVariantCallingRule(t *testing.T) {
	a := record(t, analysis.TypeVariantCalling,
		`{"fileName":"a.vcf.gz","dataType":"Raw SNV Calls","info":{"data_category":"Simple Nucleotide Variation","analysis_tools":["GATK-Mutect2"]}}`,
		`{"fileName":"b.vcf.gz","dataType":"Raw SV Calls","info":{"data_category":"Structural Variation","analysis_tools":["GATK-Mutect2"]}}`,
		`{"fileName":"c.vcf.gz","dataType":"Raw SNV Calls","info":{"data_category":"Simple Nucleotide Variation","analysis_tools":["bas_stats"]}}`,
	)
	if !NewVariantCallingRule().Apply(a) {
		t.Fatalf("expected change")
	}
	want := [][]string{{"GATK:Mutect2"}, {"GATK-Mutect2"}, {"bas_stats"}}
	for i, w := range want {
		if diff := cmp.Diff(w, strs(t, a.Files[i].Info, analysis.KeyAnalysisTools)); diff != "" {
			t.Fatalf("file %d tools mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestSupplementRule(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		changed  bool
		dataType string
	}{
		{"ascat", `{"fileName":"X.ascat-supplement.tgz","dataType":"Variant Calling Supplement","info":{"data_category":"Copy Number Variation"}}`, true, "CNV Supplement"},
		{"pindel", `{"fileName":"X.pindel-supplement.tgz","dataType":"Variant Calling Supplement","info":{"a":1}}`, true, "InDel Supplement"},
		{"caveman", `{"fileName":"X.caveman-supplement.tgz","dataType":"Variant Calling Supplement","info":{"a":1}}`, true, "SNV Supplement"},
		{"brass", `{"fileName":"X.brass-supplement.tgz","dataType":"Variant Calling Supplement","info":{"a":1}}`, true, "SV Supplement"},
		{"already revised", `{"fileName":"X.brass-supplement.tgz","dataType":"SV Supplement","info":{"a":1}}`, false, "SV Supplement"},
		{"no info", `{"fileName":"X.ascat-supplement.tgz","dataType":"Variant Calling Supplement"}`, false, "Variant Calling Supplement"},
		{"other suffix", `{"fileName":"X.vcf.gz","dataType":"Variant Calling Supplement","info":{"a":1}}`, false, "Variant Calling Supplement"},
		{"timings with subtype", `{"fileName":"Y.timings-supplement.tgz","dataType":"Variant Calling Supplement","info":{"data_subtype":["Runtime Stats"]}}`, false, "Variant Calling Supplement"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := record(t, analysis.TypeVariantCallingSupplement, tc.file)
			if got := NewVariantCallingSupplementRule().Apply(a); got != tc.changed {
				t.Fatalf("changed = %v", got)
			}
			if a.Files[0].DataType != tc.dataType {
				t.Fatalf("dataType = %s", a.Files[0].DataType)
			}
		})
	}
}

func TestSupplementTimings(t *testing.T) {
	a := record(t, analysis.TypeVariantCallingSupplement, `{"fileName":"Y.timings-supplement.tgz","dataType":"Variant Calling Supplement","info":{"data_category":"Simple Nucleotide Variation","analysis_tools":["Sanger:timings"]}}`)
	if !NewVariantCallingSupplementRule().Apply(a) {
		t.Fatalf("expected change")
	}
	f := a.Files[0]
	if f.DataType != "Analysis QC" {
		t.Fatalf("dataType = %s", f.DataType)
	}
	want := analysis.Info{
		"data_category":  json.RawMessage(`"Quality Control Metrics"`),
		"data_subtype":   json.RawMessage(`["Runtime Stats"]`),
		"analysis_tools": json.RawMessage(`null`),
	}
	if diff := cmp.Diff(want, f.Info); diff != "" {
		t.Fatalf("info mismatch (-want +got):\n%s", diff)
	}
}

func TestSequencingAlignmentRule(t *testing.T) {
	complete := `{"fileName":"x.bam","info":{"data_category":"Sequencing Reads","analysis_tools":["BWA-MEM"]}}`
	tests := []struct {
		name    string
		files   []string
		changed bool
	}{
		{"complete", []string{complete, complete}, false},
		{"missing tools", []string{complete, `{"fileName":"x.bai","info":{"data_category":"Sequencing Reads"}}`}, true},
		{"missing category", []string{`{"fileName":"x.bam","info":{"analysis_tools":["BWA-MEM"]}}`}, true},
		{"missing info", []string{`{"fileName":"x.bam"}`}, true},
		{"no files", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := record(t, analysis.TypeSequencingAlignment, tc.files...)
			before, _ := json.Marshal(a.Files)
			if got := NewSequencingAlignmentRule().Apply(a); got != tc.changed {
				t.Fatalf("changed = %v", got)
			}
			after, _ := json.Marshal(a.Files)
			if string(before) != string(after) {
				t.Fatalf("alignment rule must not alter files")
			}
		})
	}
}

func TestBasStatsAlwaysNamespacedOnQCPath(t *testing.T) {
	for legacy := range QCDataTypes {
		a := record(t, analysis.TypeQCMetrics, `{"fileName":"f","dataType":"`+string(legacy)+`","info":{"data_category":"Quality Control Metrics","analysis_tools":["bas_stats","bas_stats"],"description":"d"}}`)
		res := NewDefaultEngine().Transform(a)
		if !res.Retained() {
			t.Fatalf("%s: expected record to be retained", legacy)
		}
		if diff := cmp.Diff([]string{"Sanger:bam_stats", "Sanger:bam_stats"}, strs(t, a.Files[0].Info, analysis.KeyAnalysisTools)); diff != "" {
			t.Fatalf("%s: tools mismatch (-want +got):\n%s", legacy, diff)
		}
	}
}

func TestToolRewriteOnMixedList(t *testing.T) {
	cases := []struct {
		tools, want string
	}{
		{`["bas_stats",null]`, `["Sanger:bam_stats",null]`},
		{`["bas_stats",5]`, `["Sanger:bam_stats",5]`},
	}
	for _, tc := range cases {
		a := record(t, analysis.TypeQCMetrics, `{"fileName":"f","dataType":"Sample QC","info":{"data_category":"Quality Control Metrics","analysis_tools":`+tc.tools+`,"description":"d"}}`)
		if !NewQCMetricsRule().Apply(a) {
			t.Fatalf("%s: expected change", tc.tools)
		}
		if got := string(a.Files[0].Info[analysis.KeyAnalysisTools]); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.tools, got, tc.want)
		}
	}
	a := record(t, analysis.TypeQCMetrics, `{"fileName":"f","dataType":"Sample QC","info":{"data_category":"Quality Control Metrics","analysis_tools":["bas_stats",5],"description":"d"}}`)
	if res := NewDefaultEngine().Transform(a); res.Skip != SkipNone {
		t.Fatalf("mixed tool list must still migrate, skip = %q", res.Skip)
	}
}
