// Package normalize converts raw, loosely typed inventory values into canonical
// field values. None of these functions fail: a value that cannot be coerced is
// reported as absent through the second return value.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"dealer_scraper/models"
)

var (
	numericRe  = regexp.MustCompile(`[\d.]+`)
	nonDigitRe = regexp.MustCompile(`\D`)
)

// Present reports whether v was supplied at all.
func Present(v any) bool {
	return v != nil
}

// Truthy reports whether v is non-nil and not a zero value. Zero numbers, empty
// strings and empty collections count as missing.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

// Price accepts numbers, currency strings, and {value|amount} objects.
// Only string sub-values of an object are coerced; numeric ones yield absent.
func Price(v any) (float64, bool) {
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		return parsePriceString(val)
	case map[string]any:
		sub := val["value"]
		if !Truthy(sub) {
			sub = val["amount"]
		}
		if s, ok := sub.(string); ok {
			return parsePriceString(s)
		}
		return 0, false
	}
	return number(v)
}

func parsePriceString(s string) (float64, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "").Replace(s)
	match := numericRe.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Odometer accepts integers or strings such as "12,345 mi".
func Odometer(v any) (int, bool) {
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		digits := nonDigitRe.ReplaceAllString(val, "")
		if digits == "" {
			return 0, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	f, ok := number(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Color accepts a plain string or an object carrying a label or id.
func Color(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case map[string]any:
		for _, key := range []string{"label", "id"} {
			if sub := val[key]; Truthy(sub) {
				return fmt.Sprint(sub), true
			}
		}
		return "", false
	}
	if !Truthy(v) {
		return "", false
	}
	return fmt.Sprint(v), true
}

// Year accepts integers or numeric strings inside the supported model-year range.
func Year(v any) (int, bool) {
	var year int
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false
		}
		year = n
	default:
		f, ok := number(v)
		if !ok || f != math.Trunc(f) {
			return 0, false
		}
		year = int(f)
	}
	if year < models.MinModelYear || year > models.MaxModelYear {
		return 0, false
	}
	return year, true
}

// Title composes "{year} {make} {model} {trim}", skipping absent parts.
func Title(year *int, brand, model, trim string) string {
	parts := make([]string, 0, 4)
	if year != nil {
		parts = append(parts, strconv.Itoa(*year))
	}
	for _, p := range []string{brand, model, trim} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Options serializes sequences and objects to JSON; strings pass through.
func Options(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case []any, []string, map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return fmt.Sprint(v), true
}

// DecodeOptions reverses Options for a serialized sequence.
func DecodeOptions(s string) ([]string, error) {
	var opts []string
	if err := json.Unmarshal([]byte(s), &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

// JoinList flattens list values into a space-separated string.
func JoinList(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			if s := fmt.Sprint(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " "), true
	case []string:
		return strings.Join(val, " "), true
	}
	return fmt.Sprint(v), true
}

// number converts any Go numeric type, including json.Number, to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
