// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package pipeline

// Merge deep-merges override into base and returns a new map.
//
// Override entries that are nil, empty strings, empty maps, or empty slices
// are stripped before merging, so a blank override value can never erase a
// present base value. Zero and false are NOT stripped; they are meaningful
// values and do overwrite. Nested maps merge key by key with the override
// winning at each key. Neither input is mutated.
//
// The stripping must happen before the merge: a plain deep-merge would let
// blank override fields destroy valid base data.
func Merge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if isEmptyValue(v) {
			continue
		}
		overrideMap, overrideIsMap := v.(map[string]any)
		baseMap, baseIsMap := result[k].(map[string]any)
		if overrideIsMap && baseIsMap {
			result[k] = mergeDeep(baseMap, overrideMap)
			continue
		}
		result[k] = v
	}

	return result
}

// mergeDeep merges nested maps without stripping: only the override's own
// top-level fields are subject to the empty check, matching the original
// reject-then-mergeDeepRight order.
func mergeDeep(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		overrideMap, overrideIsMap := v.(map[string]any)
		baseMap, baseIsMap := result[k].(map[string]any)
		if overrideIsMap && baseIsMap {
			result[k] = mergeDeep(baseMap, overrideMap)
			continue
		}
		result[k] = v
	}
	return result
}

// isEmptyValue reports whether v is absent for merge purposes: nil, an empty
// string, an empty map, or an empty slice. Numbers and booleans are never
// empty, including 0 and false.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case map[string]string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	default:
		return false
	}
}
