package reactive

import (
	"encoding/json"
	"sort"
)

// Fingerprint returns the canonical JSON encoding of a validated params
// value: object keys are sorted, and a nil/absent value is treated as an
// empty object. Two values that are structurally equal after canonicalizing
// key order produce identical fingerprints, which is what the subscription
// multiplexer uses as its dedup key component.
func Fingerprint(params any) (string, error) {
	canonical, err := canonicalize(params)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// canonicalize normalizes params into a form that marshals deterministically:
// maps become sorted key/value pairs (via orderedMap), nil becomes an empty
// object, and everything else is returned as-is (json.Marshal already
// produces stable output for slices and scalars).
func canonicalize(params any) (any, error) {
	if params == nil {
		return map[string]any{}, nil
	}

	// Round-trip through json so that arbitrary Go values (structs, pointers)
	// land in the same shape a raw JSON payload would have: maps, slices,
	// and scalars only.
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}

	return canonicalizeValue(generic), nil
}

func canonicalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return orderedMap{}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, orderedEntry{Key: k, Value: canonicalizeValue(t[k])})
		}
		return entries
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = canonicalizeValue(item)
		}
		return out
	default:
		return t
	}
}

// orderedEntry is one key/value pair of an orderedMap.
type orderedEntry struct {
	Key   string
	Value any
}

// orderedMap marshals as a JSON object with keys in the order given, which
// for canonicalizeValue's output is always sorted order.
type orderedMap []orderedEntry

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, entry := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(entry.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(entry.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
