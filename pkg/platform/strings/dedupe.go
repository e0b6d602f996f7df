// Package strings cleans list-valued settings.
package strings

import (
	"strings"
)

// DedupeAndTrim trims every element and drops empty and repeated ones,
// preserving first-seen order. Broker lists from env vars such as
// "a:9092, b:9092,,a:9092" come out as [a:9092 b:9092].
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}
