package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/accmarket/market-bfa-go/internal/domain"
)

// Raw is one decoded upstream record.
type Raw = map[string]any

// lookup walks a dot path ("steam.level") through nested objects.
// JSON null counts as absent.
func lookup(raw Raw, path string) (any, bool) {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// firstOf returns the first candidate accepted by conv. A present value conv
// rejects does not stop the search; the next path is tried.
func firstOf[T any](raw Raw, paths []string, conv func(any) (T, bool)) (T, bool) {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok {
			continue
		}
		if out, ok := conv(v); ok {
			return out, true
		}
	}
	var zero T
	return zero, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(x, ",", "."))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asInt64(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int, int64:
		return fmt.Sprint(x), true
	}
	return "", false
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no", "":
			return false, true
		}
		return false, false
	}
	if f, ok := asFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// asNames accepts a list of strings, a list of objects carrying a title or
// name, or an object keyed by id whose values carry a title or name.
func asNames(v any) ([]string, bool) {
	var elems []any
	switch x := v.(type) {
	case []any:
		elems = x
	case map[string]any:
		keys := sortedKeys(x)
		elems = make([]any, 0, len(keys))
		for _, k := range keys {
			elems = append(elems, x[k])
		}
	default:
		return nil, false
	}

	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if s, ok := asString(e); ok {
			out = append(out, s)
			continue
		}
		if obj, ok := e.(map[string]any); ok {
			if s, ok := firstOf(obj, []string{"title", "name", "id"}, asString); ok {
				out = append(out, s)
			}
		}
	}
	return out, true
}

// Epoch bounds used to tell UNIX seconds from other numbers.
var (
	minEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxEpoch = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// asTimestamp converts epoch seconds (or milliseconds), numeric strings and
// common date layouts into a UTC time.
func asTimestamp(v any) (time.Time, bool) {
	if f, ok := asFloat(v); ok {
		secs := int64(f)
		if secs >= maxEpoch {
			secs /= 1000
		}
		if secs < minEpoch || secs >= maxEpoch {
			return time.Time{}, false
		}
		return time.Unix(secs, 0).UTC(), true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// displayTime renders a timestamp candidate list or returns "Unknown".
func displayTime(raw Raw, paths []string) string {
	if t, ok := firstOf(raw, paths, asTimestamp); ok {
		return t.Format(time.RFC3339)
	}
	return domain.UnknownValue
}

// asWarrantyHours reads a number of hours or a duration such as "24h" / "3d".
func asWarrantyHours(v any) (int, bool) {
	if s, ok := v.(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		if days, found := strings.CutSuffix(s, "d"); found {
			if n, err := strconv.Atoi(days); err == nil && n > 0 {
				return n * 24, true
			}
			return 0, false
		}
		if d, err := time.ParseDuration(s); err == nil {
			h := int(d.Hours())
			return h, h > 0
		}
	}
	h, ok := asInt(v)
	return h, ok && h > 0
}

func formatWarranty(hours int) string {
	if hours <= 0 {
		return ""
	}
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%dd", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}

var currencySymbols = map[string]string{
	"rub": "₽",
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"uah": "₴",
	"kzt": "₸",
	"cny": "¥",
	"byn": "Br",
}

var prefixSymbols = map[string]bool{"usd": true, "eur": true, "gbp": true}

// formatPrice renders "$10.50" or "10.50 ₽" style strings.
func formatPrice(price float64, currency string) string {
	amount := strconv.FormatFloat(price, 'f', 2, 64)
	sym, ok := currencySymbols[currency]
	if !ok {
		return amount + " " + strings.ToUpper(currency)
	}
	if prefixSymbols[currency] {
		return sym + amount
	}
	return amount + " " + sym
}
