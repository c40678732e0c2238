package rules

// DataType is a file dataType label.
type DataType string

// Legacy dataType labels used by ICGC-25K qc_metrics files.
const (
	LegacyAlignmentQC              DataType = "Alignment QC"
	LegacyCrossSampleContamination DataType = "Cross Sample Contamination"
	LegacyDuplicatesMetrics        DataType = "Duplicates Metrics"
	LegacyGenotypingInferredGender DataType = "Genotyping Inferred Gender"
	LegacyMutect2CallableStats     DataType = "Mutect2 Callable Stats"
	LegacyMutect2CallabeStats      DataType = "Mutect2 Callabe Stats" // typo present in published records
	LegacyMutect2FilteringStats    DataType = "Mutect2 Filtering Stats"
	LegacyOxoGMetrics              DataType = "OxoG Metrics"
	LegacyPloidyPurityEstimation   DataType = "Ploidy and Purity Estimation"
	LegacyReadGroupQC              DataType = "Read Group QC"
)

// Revised dataType labels.
const (
	AlignedReadsQC           DataType = "Aligned Reads QC"
	SampleQC                 DataType = "Sample QC"
	AnalysisQC               DataType = "Analysis QC"
	SequencingQC             DataType = "Sequencing QC"
	VariantCallingSupplement DataType = "Variant Calling Supplement"
	InDelSupplement          DataType = "InDel Supplement"
	SNVSupplement            DataType = "SNV Supplement"
	SVSupplement             DataType = "SV Supplement"
	CNVSupplement            DataType = "CNV Supplement"
)

// Data categories.
const (
	CategoryQualityControlMetrics     = "Quality Control Metrics"
	CategorySimpleNucleotideVariation = "Simple Nucleotide Variation"
)

// QCTarget is the revised classification of a legacy qc_metrics dataType.
type QCTarget struct {
	DataType DataType
	Subtypes []string
}

// QCDataTypes maps legacy qc_metrics dataTypes to their revised dataType and data_subtype list.
var QCDataTypes = map[DataType]QCTarget{
	LegacyAlignmentQC:              {AlignedReadsQC, []string{"Alignment Metrics"}},
	LegacyCrossSampleContamination: {SampleQC, []string{"Cross Sample Contamination"}},
	LegacyDuplicatesMetrics:        {AlignedReadsQC, []string{"Duplicates Metrics"}},
	LegacyGenotypingInferredGender: {AnalysisQC, []string{"Genotyping Stats"}},
	LegacyMutect2CallableStats:     {AnalysisQC, []string{"Variant Callable Stats"}},
	LegacyMutect2CallabeStats:      {AnalysisQC, []string{"Variant Callable Stats"}},
	LegacyMutect2FilteringStats:    {AnalysisQC, []string{"Variant Filtering Stats"}},
	LegacyOxoGMetrics:              {AlignedReadsQC, []string{"OxoG Metrics"}},
	LegacyPloidyPurityEstimation:   {AnalysisQC, []string{"Ploidy", "Tumour Purity"}},
	LegacyReadGroupQC:              {SequencingQC, []string{"Read Group Metrics"}},
}

// Tool is an analysis_tools entry.
type Tool string

const (
	ToolGATKCalculateContamination Tool = "GATK-CalculateContamination"
	ToolGATKFilterMutectCalls      Tool = "GATK-FilterMutectCalls"
	ToolGATKMutect2                Tool = "GATK-Mutect2"
	ToolBasStats                   Tool = "bas_stats"
	ToolCompareBamGenotypes        Tool = "compareBamGenotypes"
	ToolVerifyBamHomChk            Tool = "verifyBamHomChk"
)

// QCTools maps legacy tool identifiers on qc_metrics files to their namespaced form.
var QCTools = map[Tool]Tool{
	ToolGATKCalculateContamination: "GATK:CalculateContamination",
	ToolGATKFilterMutectCalls:      "GATK:FilterMutectCalls",
	ToolGATKMutect2:                "GATK:Mutect2",
	ToolBasStats:                   "Sanger:bam_stats",
	ToolCompareBamGenotypes:        "Sanger:compareBamGenotypes",
	ToolVerifyBamHomChk:            "Sanger:verifyBamHomChk",
}

// VariantCallingTools maps tool identifiers on variant_calling SNV files.
var VariantCallingTools = map[Tool]Tool{
	ToolGATKMutect2: "GATK:Mutect2",
}

// QCDescriptions maps qc_metrics file descriptions that name retired scripts.
var QCDescriptions = map[string]string{
	"Alignment QC metrics generated by Sanger bas_stats.pl script": "Alignment QC metrics generated by Sanger bam_stats script",
}

// SupplementSuffix is a variant_calling_supplement file name suffix.
type SupplementSuffix string

const (
	SuffixTimings SupplementSuffix = ".timings-supplement.tgz"
	SuffixPindel  SupplementSuffix = ".pindel-supplement.tgz"
	SuffixCaveman SupplementSuffix = ".caveman-supplement.tgz"
	SuffixBrass   SupplementSuffix = ".brass-supplement.tgz"
	SuffixAscat   SupplementSuffix = ".ascat-supplement.tgz"
)

// SupplementDataTypes maps caller supplement archives to their revised dataType.
// Timings archives are reclassified as QC and handled separately.
var SupplementDataTypes = map[SupplementSuffix]DataType{
	SuffixPindel:  InDelSupplement,
	SuffixCaveman: SNVSupplement,
	SuffixBrass:   SVSupplement,
	SuffixAscat:   CNVSupplement,
}

// supplementOrder fixes the suffix dispatch order.
var supplementOrder = []SupplementSuffix{SuffixTimings, SuffixPindel, SuffixCaveman, SuffixBrass, SuffixAscat}

// Timings archives become runtime statistics.
var (
	timingsDataType = AnalysisQC
	timingsSubtypes = []string{"Runtime Stats"}
)
