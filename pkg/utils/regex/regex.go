package regex

import (
	"regexp"
	"strings"
)

// CombinePatterns joins patterns into one alternation. It returns nil for an
// empty list and an error for the first pattern that does not compile.
func CombinePatterns(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	combined := "(?:" + strings.Join(patterns, ")|(?:") + ")"
	return regexp.Compile(combined)
}
