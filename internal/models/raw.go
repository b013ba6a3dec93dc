package models

import (
	"encoding/json"
	"fmt"
)

// RawDocument is a persisted document before it has been checked against any
// schema. Values are whatever the decoder produced: maps, slices, strings,
// bools and numbers of any width.
type RawDocument map[string]any

// Clone returns a deep copy of the document.
func (d RawDocument) Clone() RawDocument {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case RawDocument:
		return RawDocument(cloneValue(map[string]any(t)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// ToRaw converts a typed state into its persisted form.
func ToRaw(s WorldState) (RawDocument, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode world state: %w", err)
	}
	var doc RawDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode world state: %w", err)
	}
	return doc, nil
}

// DecodeRaw reads a current-version document into the typed model.
func DecodeRaw(doc RawDocument) (WorldState, error) {
	var s WorldState
	b, err := json.Marshal(doc)
	if err != nil {
		return s, fmt.Errorf("encode raw document: %w", err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode raw document: %w", err)
	}
	return s, nil
}
