// Package analysis models SONG analysis and file records as they appear in
// catalog dumps and migration partitions.
package analysis

import (
	"encoding/json"
	"fmt"
)

// TypeName identifies an analysis schema registered in SONG.
type TypeName string

const (
	TypeQCMetrics                TypeName = "qc_metrics"
	TypeVariantCalling           TypeName = "variant_calling"
	TypeVariantCallingSupplement TypeName = "variant_calling_supplement"
	TypeSequencingAlignment      TypeName = "sequencing_alignment"
)

// KnownTypes lists the analysis types handled by the migration, in partition order.
var KnownTypes = []TypeName{
	TypeQCMetrics,
	TypeSequencingAlignment,
	TypeVariantCalling,
	TypeVariantCallingSupplement,
}

// Known reports whether t is one of KnownTypes.
func (t TypeName) Known() bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Partition returns the line-delimited JSON file name records of type t are written to.
func (t TypeName) Partition() string {
	return "migrate_" + string(t) + ".jsonl"
}

// State is the publication state of an analysis.
type State string

const (
	StatePublished   State = "PUBLISHED"
	StateUnpublished State = "UNPUBLISHED"
	StateSuppressed  State = "SUPPRESSED"
)

// Origin is the marker written into the info of every migrated analysis.
const Origin = "ICGC-25K"

// bookkeepingFields are server-maintained fields that must not be replayed.
var bookkeepingFields = []string{"createdAt", "updatedAt", "firstPublishedAt", "publishedAt", "analysisStateHistory"}

// replayExcluded are removed from the analysis update body; they are either
// addressed through the URL or updated through their own endpoints.
var replayExcluded = []string{"analysisState", "studyId", "analysisId", "files", "samples"}

// AnalysisType is the embedded schema reference of an analysis.
type AnalysisType struct {
	Name    TypeName        `json:"name"`
	Version json.RawMessage `json:"version,omitempty"`
}

// Analysis is one SONG analysis record. Fields the migration does not touch
// are carried in Extra and encoded back unchanged.
type Analysis struct {
	ID      string
	StudyID string
	State   State
	Type    AnalysisType
	Info    Info
	Files   []File
	Extra   map[string]json.RawMessage
}

// File is one file entry of an analysis.
type File struct {
	ObjectID string
	FileName string
	DataType string
	Info     Info
	Extra    map[string]json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Analysis) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*a = Analysis{}
	if err := takeString(fields, "analysisId", &a.ID); err != nil {
		return err
	}
	if err := takeString(fields, "studyId", &a.StudyID); err != nil {
		return err
	}
	var state string
	if err := takeString(fields, "analysisState", &state); err != nil {
		return err
	}
	a.State = State(state)
	if raw, ok := fields["analysisType"]; ok {
		delete(fields, "analysisType")
		if err := json.Unmarshal(raw, &a.Type); err != nil {
			return fmt.Errorf("analysisType: %w", err)
		}
	}
	if raw, ok := fields["info"]; ok {
		delete(fields, "info")
		if err := json.Unmarshal(raw, &a.Info); err != nil {
			return fmt.Errorf("info: %w", err)
		}
	}
	if raw, ok := fields["files"]; ok {
		delete(fields, "files")
		if err := json.Unmarshal(raw, &a.Files); err != nil {
			return fmt.Errorf("files: %w", err)
		}
	}
	a.Extra = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Analysis) MarshalJSON() ([]byte, error) {
	fields, err := a.fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (a Analysis) fields() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(a.Extra)+6)
	for k, v := range a.Extra {
		out[k] = v
	}
	if err := putString(out, "analysisId", a.ID); err != nil {
		return nil, err
	}
	if err := putString(out, "studyId", a.StudyID); err != nil {
		return nil, err
	}
	if err := putString(out, "analysisState", string(a.State)); err != nil {
		return nil, err
	}
	if a.Type.Name != "" || len(a.Type.Version) > 0 {
		b, err := json.Marshal(a.Type)
		if err != nil {
			return nil, err
		}
		out["analysisType"] = b
	}
	if a.Info != nil {
		b, err := json.Marshal(a.Info)
		if err != nil {
			return nil, err
		}
		out["info"] = b
	}
	files := a.Files
	if files == nil {
		files = []File{}
	}
	b, err := json.Marshal(files)
	if err != nil {
		return nil, err
	}
	out["files"] = b
	return out, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *File) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*f = File{}
	if err := takeString(fields, "objectId", &f.ObjectID); err != nil {
		return err
	}
	if err := takeString(fields, "fileName", &f.FileName); err != nil {
		return err
	}
	if err := takeString(fields, "dataType", &f.DataType); err != nil {
		return err
	}
	if raw, ok := fields["info"]; ok {
		delete(fields, "info")
		if err := json.Unmarshal(raw, &f.Info); err != nil {
			return fmt.Errorf("file info: %w", err)
		}
	}
	f.Extra = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f File) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(f.Extra)+4)
	for k, v := range f.Extra {
		out[k] = v
	}
	for _, kv := range [][2]string{{"objectId", f.ObjectID}, {"fileName", f.FileName}, {"dataType", f.DataType}} {
		if err := putString(out, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	if f.Info != nil {
		b, err := json.Marshal(f.Info)
		if err != nil {
			return nil, err
		}
		out["info"] = b
	}
	return json.Marshal(out)
}

// Published reports whether the analysis is in the PUBLISHED state.
func (a *Analysis) Published() bool { return a.State == StatePublished }

// Migrated reports whether the analysis already carries the migration origin marker.
func (a *Analysis) Migrated() bool {
	origin, ok := a.Info.String(KeyOrigin)
	return ok && origin == Origin
}

// StripBookkeeping removes the publication state, the schema version and the
// server-maintained timestamps so the record can be replayed as an update.
func (a *Analysis) StripBookkeeping() {
	a.State = ""
	a.Type.Version = nil
	for _, k := range bookkeepingFields {
		delete(a.Extra, k)
	}
}

// MarkMigrated replaces the analysis info wholesale with the origin marker.
func (a *Analysis) MarkMigrated() {
	a.Info = Info{}
	a.Info.Set(KeyOrigin, Origin)
}

// UpdatePayload returns the analysis body sent to the analysis update
// endpoint: the full document without state, identifiers, files and samples.
func (a Analysis) UpdatePayload() ([]byte, error) {
	fields, err := a.fields()
	if err != nil {
		return nil, err
	}
	for _, k := range replayExcluded {
		delete(fields, k)
	}
	return json.Marshal(fields)
}

// FileUpdate is the reduced metadata document sent to the file update endpoint.
type FileUpdate struct {
	DataType string         `json:"dataType"`
	Info     FileUpdateInfo `json:"info"`
}

// FileUpdateInfo holds the four info sub-fields the catalog accepts on a file update.
type FileUpdateInfo struct {
	DataSubtypes  json.RawMessage `json:"data_subtypes"`
	AnalysisTools json.RawMessage `json:"analysis_tools"`
	DataCategory  json.RawMessage `json:"data_category"`
	Description   json.RawMessage `json:"description"`
}

// UpdatePayload returns the file update document. Absent info fields are sent
// as null. Subtypes are read from data_subtypes, falling back to the
// data_subtype key written by the transform stage.
func (f File) UpdatePayload() FileUpdate {
	subtypes := f.Info.Raw(KeyDataSubtypes)
	if !f.Info.Has(KeyDataSubtypes) {
		subtypes = f.Info.Raw(KeyDataSubtype)
	}
	return FileUpdate{
		DataType: f.DataType,
		Info: FileUpdateInfo{
			DataSubtypes:  subtypes,
			AnalysisTools: f.Info.Raw(KeyAnalysisTools),
			DataCategory:  f.Info.Raw(KeyDataCategory),
			Description:   f.Info.Raw(KeyDescription),
		},
	}
}

func takeString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	if string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func putString(fields map[string]json.RawMessage, key, value string) error {
	if value == "" {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fields[key] = b
	return nil
}
