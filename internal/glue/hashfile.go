package glue

import "path/filepath"

// TypesHashFilename is the single fixed filename the external type
// generation collaborator (gated by ANQUEUE_GENERATE_TYPES, out of scope
// for this module) reads and writes under the task directory to detect
// whether executor sources changed since the last generation run. No API in
// this module accepts a caller-supplied hash filename; every caller that
// needs the path calls TypesHashPath.
const TypesHashFilename = ".anqueue-types.hash"

// TypesHashPath returns the fixed hash file path under taskDir.
func TypesHashPath(taskDir string) string {
	return filepath.Join(taskDir, TypesHashFilename)
}
