package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// leadingNumber matches the numeric token at the start of a display string,
// including grouping spaces and either decimal separator
// (e.g. "2 500 000 kr", "62,5 m²", "3.5 rum").
var leadingNumber = regexp.MustCompile(`^([0-9][0-9 \x{00a0}\x{202f}.,]*)`)

// ParseNumber parses the leading numeric token of a display string.
// Grouping spaces (including non-breaking variants) are stripped and both
// "." and "," are honored as decimal separators. Returns nil when the
// string does not start with a number.
func ParseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	m := leadingNumber.FindStringSubmatch(s)
	if m == nil {
		return nil
	}

	token := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ':
			return -1
		default:
			return r
		}
	}, m[1])
	token = strings.TrimRight(token, ".,")
	token = strings.ReplaceAll(token, ",", ".")

	// Separators before the last one are digit grouping. The last one is a
	// decimal separator only when it is followed by one or two digits;
	// "2.500.000" groups, "62.5" and "4.50" do not.
	if last := strings.LastIndex(token, "."); last >= 0 {
		intPart := strings.ReplaceAll(token[:last], ".", "")
		frac := token[last+1:]
		if len(frac) >= 3 {
			token = intPart + frac
		} else {
			token = intPart + "." + frac
		}
	}

	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil
	}
	return &v
}

// asNumber coerces the structured-field shapes seen in graph nodes into a
// number: bare float, numeric string, or a wrapped value object such as
// {"raw": 2500000} or {"formatted": "2 500 000 kr"}.
func asNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case string:
		return ParseNumber(t)
	case map[string]any:
		for _, key := range []string{"raw", "value", "amount"} {
			if inner, ok := t[key]; ok {
				if n := asNumber(inner); n != nil {
					return n
				}
			}
		}
		for _, key := range []string{"formatted", "plainText"} {
			if inner, ok := t[key].(string); ok {
				if n := ParseNumber(inner); n != nil {
					return n
				}
			}
		}
	}
	return nil
}

// asString coerces scalar and wrapped-text shapes into a non-empty string.
func asString(v any) *string {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return &t
	case map[string]any:
		for _, key := range []string{"plainText", "formatted", "value", "markdown"} {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return &s
			}
		}
	}
	return nil
}

func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
