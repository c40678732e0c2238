package analysis

import (
	"bytes"
	"encoding/json"
)

// Info is a free-form metadata document. Values are kept as raw JSON so that
// keys the migration never reads survive a decode/encode round trip and an
// explicit null stays distinguishable from an absent key.
type Info map[string]json.RawMessage

// Well-known file info keys.
const (
	KeyDataCategory  = "data_category"
	KeyDataSubtype   = "data_subtype"
	KeyDataSubtypes  = "data_subtypes"
	KeyAnalysisTools = "analysis_tools"
	KeyDescription   = "description"
	KeyOrigin        = "origin"
)

var jsonNull = json.RawMessage("null")

// Has reports whether key is present, including an explicit null.
func (i Info) Has(key string) bool {
	_, ok := i[key]
	return ok
}

// Filled reports whether key holds a non-empty value: present and not null,
// "", [], {}, false or 0.
func (i Info) Filled(key string) bool {
	raw, ok := i[key]
	if !ok {
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// String returns the string stored under key. ok is false when the key is
// missing or does not hold a JSON string.
func (i Info) String(key string) (string, bool) {
	raw, present := i[key]
	if !present {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Strings returns the string list stored under key. ok is false when the key
// is missing or is not a list of strings.
func (i Info) Strings(key string) ([]string, bool) {
	raw, present := i[key]
	if !present {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// MapStrings passes every string entry of the list stored under key through
// fn and stores the list back when fn changed any entry. Entries that are not
// strings, null included, are kept byte for byte. It reports whether the list
// changed; a missing key or a non-list value is left alone.
func (i Info) MapStrings(key string, fn func(string) (string, bool)) bool {
	raw, present := i[key]
	if !present {
		return false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return false
	}
	changed := false
	for n, item := range items {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) == 0 || trimmed[0] != '"' {
			continue
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			continue
		}
		next, ok := fn(s)
		if !ok || next == s {
			continue
		}
		b, err := json.Marshal(next)
		if err != nil {
			continue
		}
		items[n] = b
		changed = true
	}
	if changed {
		parts := make([][]byte, len(items))
		for n, item := range items {
			parts[n] = item
		}
		out := append([]byte{'['}, bytes.Join(parts, []byte{','})...)
		i[key] = append(out, ']')
	}
	return changed
}

// Raw returns the stored JSON for key, or null when absent.
func (i Info) Raw(key string) json.RawMessage {
	if raw, ok := i[key]; ok {
		return raw
	}
	return jsonNull
}

// Set stores v under key. A nil v is written as an explicit null.
func (i Info) Set(key string, v any) {
	if v == nil {
		i[key] = jsonNull
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Only strings and string slices are stored by the migration.
		panic("analysis: unencodable info value for " + key + ": " + err.Error())
	}
	i[key] = b
}

// Clone returns a deep copy.
func (i Info) Clone() Info {
	if i == nil {
		return nil
	}
	out := make(Info, len(i))
	for k, v := range i {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
