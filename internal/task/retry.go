package task

import (
	"strings"

	re2 "github.com/wasilibs/go-re2"
)

// matchesAnyPattern reports whether msg matches any of patterns. Each
// pattern is first tried as a regular expression (via the re2 engine used
// elsewhere in this module for pattern matching); if it fails to compile, it
// falls back to a plain substring match, since most retrySchema entries in
// the wild are literal strings like "timed out" rather than regexes.
func matchesAnyPattern(msg string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if re, err := re2.Compile(p); err == nil {
			if re.MatchString(msg) {
				return true
			}
			continue
		}
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
