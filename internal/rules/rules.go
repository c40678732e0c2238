// Package rules holds the ICGC-25K taxonomy remapping applied to SONG
// analysis records before they are replayed against the catalog.
package rules

import (
	"songmigration/internal/analysis"
)

// Rule rewrites the files of one analysis type.
type Rule interface {
	Name() analysis.TypeName
	// Apply mutates the files of a in place and reports whether the record
	// qualifies for migration.
	Apply(a *analysis.Analysis) bool
}

// SkipReason explains why a record produced no output.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipNotPublished    SkipReason = "not_published"
	SkipAlreadyMigrated SkipReason = "already_migrated"
	SkipUnknownType     SkipReason = "unknown_type"
	SkipUnchanged       SkipReason = "unchanged"
)

// SkipReasons lists every non-empty skip reason.
var SkipReasons = []SkipReason{SkipNotPublished, SkipAlreadyMigrated, SkipUnknownType, SkipUnchanged}

// Result is the outcome of transforming one record.
type Result struct {
	Analysis  *analysis.Analysis
	Partition analysis.TypeName
	Skip      SkipReason
}

// Retained reports whether the record should be written to its partition.
func (r Result) Retained() bool { return r.Skip == SkipNone }

// Engine dispatches records to the rule registered for their analysis type.
type Engine struct {
	rules map[analysis.TypeName]Rule
}

// NewEngine constructs an engine with no rules.
func NewEngine() *Engine {
	return &Engine{rules: make(map[analysis.TypeName]Rule)}
}

// NewDefaultEngine builds an engine with the ICGC-25K ruleset.
func NewDefaultEngine() *Engine {
	engine := NewEngine()
	engine.Register(NewQCMetricsRule())
	engine.Register(NewVariantCallingRule())
	engine.Register(NewVariantCallingSupplementRule())
	engine.Register(NewSequencingAlignmentRule())
	return engine
}

// Register installs a rule, replacing any rule for the same analysis type.
func (e *Engine) Register(rule Rule) {
	e.rules[rule.Name()] = rule
}

// Transform applies the ruleset to a. The record is mutated in place; when the
// result is retained its publication bookkeeping has been stripped and its
// info replaced with the origin marker.
func (e *Engine) Transform(a *analysis.Analysis) Result {
	res := Result{Analysis: a, Partition: a.Type.Name}
	if !a.Published() {
		res.Skip = SkipNotPublished
		return res
	}
	a.StripBookkeeping()
	if a.Migrated() {
		res.Skip = SkipAlreadyMigrated
		return res
	}
	a.MarkMigrated()
	rule, ok := e.rules[a.Type.Name]
	if !ok {
		res.Skip = SkipUnknownType
		return res
	}
	if !rule.Apply(a) {
		res.Skip = SkipUnchanged
	}
	return res
}

// rewriteTools maps each string entry of the file's analysis_tools through
// table and reports whether any entry changed. Other entries and non-list
// values are left alone.
func rewriteTools(info analysis.Info, table map[Tool]Tool) bool {
	return info.MapStrings(analysis.KeyAnalysisTools, func(tool string) (string, bool) {
		next, ok := table[Tool(tool)]
		return string(next), ok
	})
}
