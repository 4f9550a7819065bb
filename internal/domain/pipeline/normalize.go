package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var fenceMarker = regexp.MustCompile("(?i)```(?:json)?\\s*")

// StripCodeFences removes Markdown fence markers, tagged or not.
func StripCodeFences(text string) string {
	return strings.TrimSpace(fenceMarker.ReplaceAllString(text, ""))
}

// ExtractObject parses raw model text into a JSON object. It tries the
// whole text first and then the span between the first '{' and the last '}'.
func ExtractObject(raw string) (map[string]any, error) {
	text := StripCodeFences(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrParse)
	}
	if obj, ok := decodeObject(text); ok {
		return obj, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no json object found", ErrParse)
	}
	if obj, ok := decodeObject(text[start : end+1]); ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: object between braces does not decode", ErrParse)
}

func decodeObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// Normalize turns raw model text into a result conforming to schema.
// Fields the schema does not declare are passed through untouched.
func Normalize(raw string, schema Schema) (Result, Diagnostics, error) {
	var diag Diagnostics
	obj, err := ExtractObject(raw)
	if err != nil {
		return nil, diag, err
	}
	if err := normalizeFields(obj, schema.Fields, "", &diag); err != nil {
		return nil, diag, err
	}
	return Result(obj), diag, nil
}

func normalizeFields(obj map[string]any, fields []Field, prefix string, diag *Diagnostics) error {
	for _, f := range fields {
		path := prefix + f.Name
		value, present := obj[f.Name]
		switch f.Type {
		case TypeInteger, TypeNumber:
			n, ok := toNumber(value)
			if !present {
				if f.Optional {
					continue
				}
				diag.Missing = append(diag.Missing, path)
			}
			if !ok {
				n = 0
			}
			if f.Type == TypeInteger {
				n = math.Round(n)
			}
			clamped := clamp(n, f.Min, f.Max)
			if f.Type == TypeInteger {
				// int conversion is undefined outside the int range
				clamped = math.Max(math.MinInt32, math.Min(clamped, math.MaxInt32))
			}
			if ok && clamped != n {
				diag.Clamped = append(diag.Clamped, path)
			}
			if f.Type == TypeInteger {
				obj[f.Name] = int(clamped)
			} else {
				obj[f.Name] = clamped
			}
		case TypeString:
			if !present {
				if f.Optional {
					continue
				}
				diag.Missing = append(diag.Missing, path)
			}
			obj[f.Name] = toText(value)
		case TypeArray:
			items, ok := value.([]any)
			if !present {
				diag.Missing = append(diag.Missing, path)
			}
			if !ok {
				items = nil
			}
			out, err := normalizeArray(items, f, path, diag)
			if err != nil {
				return err
			}
			obj[f.Name] = out
		case TypeObject:
			nested, ok := value.(map[string]any)
			if !ok {
				if !present && f.Optional {
					continue
				}
				if !present {
					diag.Missing = append(diag.Missing, path)
				}
				nested = map[string]any{}
			}
			if err := normalizeFields(nested, f.Fields, path+".", diag); err != nil {
				return err
			}
			obj[f.Name] = nested
		}
	}
	return nil
}

func normalizeArray(items []any, f Field, path string, diag *Diagnostics) (any, error) {
	if f.Items == TypeObject {
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			entry, ok := item.(map[string]any)
			if !ok || !hasEssentials(entry, f.ItemFields) {
				diag.Dropped++
				continue
			}
			if err := normalizeFields(entry, f.ItemFields, path+"[].", diag); err != nil {
				return nil, err
			}
			out = append(out, entry)
			if f.MaxItems > 0 && len(out) == f.MaxItems {
				break
			}
		}
		if len(out) < f.RequireItems {
			return nil, fmt.Errorf("%w: %s needs at least %d valid entries, got %d", ErrParse, path, f.RequireItems, len(out))
		}
		return out, nil
	}

	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		clean := strings.TrimSpace(toText(item))
		if clean == "" {
			diag.Dropped++
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
		if f.MaxItems > 0 && len(out) == f.MaxItems {
			break
		}
	}
	if len(out) < f.RequireItems {
		return nil, fmt.Errorf("%w: %s needs at least %d entries, got %d", ErrParse, path, f.RequireItems, len(out))
	}
	return out, nil
}

func hasEssentials(entry map[string]any, fields []Field) bool {
	for _, f := range fields {
		if !f.Essential {
			continue
		}
		s, ok := entry[f.Name].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}

func toNumber(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case int:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func clamp(v float64, min, max *float64) float64 {
	if min != nil && v < *min {
		v = *min
	}
	if max != nil && v > *max {
		v = *max
	}
	return v
}
