// Package manifest loads batch job definitions from a YAML file and turns
// them into job descriptors.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"jobforge/internal/job"
)

// File is the top-level manifest document.
type File struct {
	Jobs []Entry `yaml:"jobs"`
}

// Entry describes one job in the manifest.
type Entry struct {
	// Name labels the job in output; it does not need to be unique.
	Name string `yaml:"name"`

	Kind   string            `yaml:"kind"`
	Source string            `yaml:"source"`
	Args   []string          `yaml:"args"`
	Env    map[string]string `yaml:"env"`
	Inputs []string          `yaml:"inputs"`

	Artifacts []ArtifactEntry `yaml:"artifacts"`
}

// ArtifactEntry declares one expected output file.
type ArtifactEntry struct {
	Path    string `yaml:"path"`
	Kind    string `yaml:"kind"`
	Records int    `yaml:"records"`
}

// Load parses the manifest at path. Relative source and input paths are
// resolved against the manifest's own directory.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("manifest %s declares no jobs", path)
	}

	base := filepath.Dir(path)
	for i := range f.Jobs {
		e := &f.Jobs[i]
		e.Source = resolve(base, e.Source)
		for j, in := range e.Inputs {
			e.Inputs[j] = resolve(base, in)
		}
	}
	return &f, nil
}

// Descriptors builds one validated descriptor per manifest entry, each with
// an exclusive working directory under workRoot.
func (f *File) Descriptors(workRoot string) ([]*job.Descriptor, error) {
	descs := make([]*job.Descriptor, 0, len(f.Jobs))
	for i, e := range f.Jobs {
		kind, err := job.ParseKind(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("job %d (%s): %w", i, e.Name, err)
		}

		artifacts := make([]job.ArtifactSpec, 0, len(e.Artifacts))
		for _, a := range e.Artifacts {
			akind, err := job.ParseArtifactKind(a.Kind)
			if err != nil {
				return nil, fmt.Errorf("job %d (%s): %w", i, e.Name, err)
			}
			artifacts = append(artifacts, job.ArtifactSpec{
				Path:            a.Path,
				Kind:            akind,
				ExpectedRecords: a.Records,
			})
		}

		d, err := job.New(job.Spec{
			Kind:       kind,
			SourcePath: e.Source,
			WorkDir:    filepath.Join(workRoot, uuid.NewString()),
			Args:       e.Args,
			Env:        e.Env,
			InputFiles: e.Inputs,
			Artifacts:  artifacts,
		})
		if err != nil {
			return nil, fmt.Errorf("job %d (%s): %w", i, e.Name, err)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
