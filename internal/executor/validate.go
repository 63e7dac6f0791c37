package executor

import "github.com/anqueue/anqueue/internal/task"

// sanitizedExecutor wraps a raw Executor so that ValidationSchema returns
// the sanitized predicate list while RawValidationSchema preserves the
// original, per §4.2's "replace... but preserve raw via separate accessor".
type sanitizedExecutor struct {
	Executor
	schema []task.Predicate
	raw    []task.Predicate
}

func (s *sanitizedExecutor) ValidationSchema() []task.Predicate {
	return s.schema
}

// RawValidationSchema returns the pre-sanitization predicate list.
func (s *sanitizedExecutor) RawValidationSchema() []task.Predicate {
	return s.raw
}

// sanitizeSchema drops predicates that are not callable (nil) and
// predicates that panic or otherwise fail to behave as a boolean check
// against a synthetic dummy task. It returns the surviving predicates and
// the count removed.
func sanitizeSchema(schema []task.Predicate) ([]task.Predicate, int) {
	dummy := task.New("__sanitizer-dummy__", "")
	sanitized := make([]task.Predicate, 0, len(schema))
	removed := 0

	for _, p := range schema {
		if p == nil {
			removed++
			continue
		}
		if !safeInvoke(p, dummy) {
			removed++
			continue
		}
		sanitized = append(sanitized, p)
	}
	return sanitized, removed
}

// safeInvoke calls p against dummy and reports whether it returned without
// panicking. The boolean result itself is not used to decide admission —
// only its ability to run to completion is, since a well-typed
// task.Predicate always yields a real bool in Go.
func safeInvoke(p task.Predicate, dummy *task.Task) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	p(dummy)
	return true
}
