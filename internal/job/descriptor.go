// Package job defines the immutable descriptor for a single unit of work.
package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the toolchain a job requires.
type Kind string

const (
	// KindNativeCompiled jobs carry a source file that must be compiled
	// with the native compiler before it can run.
	KindNativeCompiled Kind = "native-compiled"

	// KindInterpretedScript jobs carry a script that is fed directly to
	// an interpreter runtime.
	KindInterpretedScript Kind = "interpreted-script"
)

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindNativeCompiled, KindInterpretedScript:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown job kind %q", ErrInvalidDescriptor, s)
}

// ArtifactKind classifies an expected output file for structural validation.
type ArtifactKind string

const (
	ArtifactTextLog        ArtifactKind = "text-log"
	ArtifactBinaryDocument ArtifactKind = "binary-document"
	ArtifactStructuredData ArtifactKind = "structured-data-file"
)

// ParseArtifactKind converts a string into an ArtifactKind.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	switch ArtifactKind(s) {
	case ArtifactTextLog, ArtifactBinaryDocument, ArtifactStructuredData:
		return ArtifactKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown artifact kind %q", ErrInvalidDescriptor, s)
}

// ArtifactSpec declares one output file a job is expected to produce.
type ArtifactSpec struct {
	// Path is relative to the job's working directory.
	Path string

	Kind ArtifactKind

	// ExpectedRecords is the record count a structured-data-file must
	// report. Zero means "any non-zero count".
	ExpectedRecords int
}

// ErrInvalidDescriptor is returned when a descriptor cannot be constructed
// from the given spec. It is the caller's fault and is never retried.
var ErrInvalidDescriptor = errors.New("invalid job descriptor")

// Spec holds the inputs for constructing a Descriptor.
type Spec struct {
	Kind       Kind
	SourcePath string

	// WorkDir must be exclusively owned by this job. The orchestrator
	// creates it fresh and never deletes it.
	WorkDir string

	// Args are extra arguments passed to the compiled binary or the
	// interpreted script.
	Args []string

	// Env is extra environment for the job's processes.
	Env map[string]string

	// InputFiles are staged into WorkDir before the job is prepared.
	InputFiles []string

	Artifacts []ArtifactSpec
}

// Descriptor is the immutable description of one job. Construct with New;
// do not mutate after construction.
type Descriptor struct {
	ID         uuid.UUID
	Kind       Kind
	SourcePath string
	WorkDir    string
	Args       []string
	Env        map[string]string
	InputFiles []string
	Artifacts  []ArtifactSpec
}

// New validates spec and builds a Descriptor. It has no side effects: in
// particular no directory is created, even on success.
func New(spec Spec) (*Descriptor, error) {
	if _, err := ParseKind(string(spec.Kind)); err != nil {
		return nil, err
	}

	if err := checkSourceFile(spec.SourcePath); err != nil {
		return nil, err
	}

	if spec.WorkDir == "" {
		return nil, fmt.Errorf("%w: working directory is required", ErrInvalidDescriptor)
	}

	for _, in := range spec.InputFiles {
		if err := checkSourceFile(in); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(spec.Artifacts))
	for _, a := range spec.Artifacts {
		if _, err := ParseArtifactKind(string(a.Kind)); err != nil {
			return nil, err
		}
		if err := checkArtifactPath(a.Path); err != nil {
			return nil, err
		}
		if _, dup := seen[a.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate artifact path %q", ErrInvalidDescriptor, a.Path)
		}
		seen[a.Path] = struct{}{}
		if a.ExpectedRecords < 0 {
			return nil, fmt.Errorf("%w: negative record count for %q", ErrInvalidDescriptor, a.Path)
		}
		if a.ExpectedRecords > 0 && a.Kind != ArtifactStructuredData {
			return nil, fmt.Errorf("%w: record count only applies to %s artifacts (%q)",
				ErrInvalidDescriptor, ArtifactStructuredData, a.Path)
		}
	}

	d := &Descriptor{
		ID:         uuid.New(),
		Kind:       spec.Kind,
		SourcePath: spec.SourcePath,
		WorkDir:    spec.WorkDir,
		Args:       append([]string(nil), spec.Args...),
		InputFiles: append([]string(nil), spec.InputFiles...),
		Artifacts:  append([]ArtifactSpec(nil), spec.Artifacts...),
	}
	if len(spec.Env) > 0 {
		d.Env = make(map[string]string, len(spec.Env))
		for k, v := range spec.Env {
			d.Env[k] = v
		}
	}
	return d, nil
}

// WithWorkDir returns a copy of the descriptor bound to a different working
// directory. The copy shares no mutable state with the original and gets a
// fresh ID, so the same job content can be executed twice concurrently.
func (d *Descriptor) WithWorkDir(workDir string) (*Descriptor, error) {
	if workDir == "" {
		return nil, fmt.Errorf("%w: working directory is required", ErrInvalidDescriptor)
	}
	cp := *d
	cp.ID = uuid.New()
	cp.WorkDir = workDir
	cp.Args = append([]string(nil), d.Args...)
	cp.InputFiles = append([]string(nil), d.InputFiles...)
	cp.Artifacts = append([]ArtifactSpec(nil), d.Artifacts...)
	if len(d.Env) > 0 {
		cp.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			cp.Env[k] = v
		}
	}
	return &cp, nil
}

func checkSourceFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: source path is required", ErrInvalidDescriptor)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: source %q: %v", ErrInvalidDescriptor, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: source %q is a directory", ErrInvalidDescriptor, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: source %q is empty", ErrInvalidDescriptor, path)
	}
	return nil
}

// checkArtifactPath rejects paths that could resolve outside the working
// directory. Artifact discovery must never leave the sandbox.
func checkArtifactPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: artifact path is required", ErrInvalidDescriptor)
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("%w: artifact path %q must be relative", ErrInvalidDescriptor, path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: artifact path %q escapes the working directory", ErrInvalidDescriptor, path)
	}
	return nil
}
