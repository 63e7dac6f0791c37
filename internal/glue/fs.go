package glue

import (
	"strings"

	re2 "github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
)

var testFileSuffix = re2.MustCompile(`(?i)(_test|\.test)\.go$`)

// AdmitExecutorFile reports whether name looks like an executor source
// module: not hidden, not a Go test file, and without a ".copy" segment.
// Discovery is non-recursive, so name is a bare filename, not a path.
func AdmitExecutorFile(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	normalized := norm.NFC.String(name)
	if testFileSuffix.MatchString(normalized) {
		return false
	}
	if strings.Contains(normalized, ".copy") {
		return false
	}
	return strings.HasSuffix(normalized, ".go")
}

// ExecutorType derives the registry key from a filename: its stem, with the
// .go extension and any directory removed by the caller beforehand.
func ExecutorType(name string) string {
	stem := strings.TrimSuffix(name, ".go")
	return stem
}
