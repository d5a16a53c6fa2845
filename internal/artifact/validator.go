// Package artifact validates the output files a job declared it would produce.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jobforge/internal/job"
)

// Check is the validation outcome for one declared artifact. It is never
// mutated after Validate returns it.
type Check struct {
	Spec              job.ArtifactSpec
	Present           bool
	SizeBytes         int64
	StructurallyValid bool

	// Escaped is set when the declared path resolves outside the working
	// directory (e.g. the job planted a symlink pointing out of its
	// sandbox). An escaped artifact is never trusted, whatever it contains.
	Escaped bool

	// Detail explains a failed check in human terms.
	Detail string
}

// OK reports whether the artifact passed every check.
func (c Check) OK() bool {
	return c.Present && c.StructurallyValid && !c.Escaped
}

// Validate resolves every declared artifact against workDir and probes it.
// All artifacts are checked even after the first failure, so the caller can
// enumerate every problem at once. Paths reported by the job itself are never
// consulted; only workDir is scanned.
func Validate(workDir string, specs []job.ArtifactSpec) []Check {
	checks := make([]Check, 0, len(specs))
	for _, spec := range specs {
		checks = append(checks, validateOne(workDir, spec))
	}
	return checks
}

func validateOne(workDir string, spec job.ArtifactSpec) Check {
	check := Check{Spec: spec}

	path := filepath.Join(workDir, spec.Path)

	if escaped, detail := escapesWorkDir(workDir, path); escaped {
		check.Escaped = true
		check.Detail = detail
		return check
	}

	info, err := os.Stat(path)
	if err != nil {
		check.Detail = fmt.Sprintf("%s: not found", spec.Path)
		return check
	}
	if info.IsDir() {
		check.Detail = fmt.Sprintf("%s: is a directory", spec.Path)
		return check
	}

	check.Present = true
	check.SizeBytes = info.Size()

	if info.Size() == 0 {
		check.Detail = fmt.Sprintf("%s: file is empty", spec.Path)
		return check
	}

	if err := probe(path, spec); err != nil {
		check.Detail = fmt.Sprintf("%s: %v", spec.Path, err)
		return check
	}

	check.StructurallyValid = true
	return check
}

// escapesWorkDir reports whether path, after resolving symlinks, lands
// outside workDir. Descriptor validation already rejects ".." components,
// so the only way out of the sandbox is a link the job created itself.
func escapesWorkDir(workDir, path string) (bool, string) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// Missing files are handled by the stat that follows.
		return false, ""
	}
	root, err := filepath.EvalSymlinks(workDir)
	if err != nil {
		return false, ""
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true, fmt.Sprintf("%s: resolves outside the working directory (%s)", path, resolved)
	}
	return false, ""
}
