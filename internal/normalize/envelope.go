package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the decoded listing wrapper returned by listing endpoints.
// Total and PerPage are zero when the upstream omitted them.
type Envelope struct {
	Items   []Raw
	Total   int
	PerPage int
	Page    int
}

// TotalKnown reports whether the upstream sent enough to compute HasMore.
func (e Envelope) TotalKnown() bool {
	return e.Total > 0 && e.PerPage > 0
}

var listKeys = []string{"items", "data", "accounts"}

// DecodeEnvelope reads a listing body. Numbers are kept as json.Number so
// large item IDs survive. Only malformed JSON is an error; unexpected shapes
// yield an empty envelope.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return env, nil
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return env, fmt.Errorf("decode listing envelope: %w", err)
	}

	switch x := raw.(type) {
	case []any:
		env.Items = records(x)
	case map[string]any:
		for _, key := range listKeys {
			if list, ok := x[key]; ok {
				env.Items = records(list)
				break
			}
		}
		env.Total, _ = firstOf(x, []string{"totalItems", "total_items", "total"}, asInt)
		env.PerPage, _ = firstOf(x, []string{"perPage", "per_page"}, asInt)
		env.Page, _ = firstOf(x, []string{"page"}, asInt)
	}
	if env.Items == nil {
		env.Items = []Raw{}
	}
	return env, nil
}

// DecodeItem reads a single-item body, unwrapping {"item": {...}} when
// present.
func DecodeItem(body []byte) (Raw, error) {
	var raw Raw
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	if inner, ok := raw["item"].(map[string]any); ok {
		return inner, nil
	}
	if raw == nil {
		raw = Raw{}
	}
	return raw, nil
}

// records keeps the object elements of a list or of an id-keyed object.
func records(v any) []Raw {
	var elems []any
	switch x := v.(type) {
	case []any:
		elems = x
	case map[string]any:
		for _, k := range sortedKeys(x) {
			elems = append(elems, x[k])
		}
	}
	out := make([]Raw, 0, len(elems))
	for _, e := range elems {
		if obj, ok := e.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
