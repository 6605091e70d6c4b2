// Package strings holds list helpers shared by config parsing and workflow loading.
package strings

import (
	"strings"
)

// Normalize trims every element, drops empty ones and removes duplicates.
// Order of first occurrence is kept; case is significant.
//
//	Normalize([]string{" supervisor ", "director", "supervisor", ""})
//	// []string{"supervisor", "director"}
func Normalize(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SplitList splits a comma separated value and normalizes the parts.
// An empty or blank input yields nil.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := Normalize(strings.Split(s, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
