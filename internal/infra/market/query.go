package market

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// EncodeQuery serializes query parameters the way the marketplace expects.
// Keys are sorted. Slices become repeated key[0]=a&key[1]=b pairs with
// literal brackets, never a comma-joined value. Empty strings, false, nil and
// empty slices are dropped.
func EncodeQuery(q map[string]any) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	write := func(key, value string) {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	for _, k := range keys {
		name := url.QueryEscape(strings.TrimSuffix(k, "[]"))
		v := q[k]
		if isEmpty(v) {
			continue
		}
		if elems, ok := sliceElems(v); ok {
			i := 0
			for _, e := range elems {
				if isEmpty(e) {
					continue
				}
				write(name+"["+strconv.Itoa(i)+"]", formatScalar(e))
				i++
			}
			continue
		}
		write(name, formatScalar(v))
	}
	return b.String()
}

// isEmpty reports values that must not be sent: the upstream treats a
// present-but-empty filter as an active filter.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	}
	if elems, ok := sliceElems(v); ok {
		for _, e := range elems {
			if !isEmpty(e) {
				return false
			}
		}
		return true
	}
	return false
}

// sliceElems unpacks any slice or array except []byte.
func sliceElems(v any) ([]any, bool) {
	if elems, ok := v.([]any); ok {
		return elems, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
