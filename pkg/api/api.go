// Package api contains the JSON structs emitted by the forge CLI.
// Downstream tooling parses these, so field names are part of the
// public contract.
package api

import "time"

// JobReport is the top-level document describing one job run.
type JobReport struct {
	JobID    string          `json:"job_id"`
	Kind     string          `json:"kind"`
	Source   string          `json:"source"`
	WorkDir  string          `json:"work_dir"`
	Outcome  string          `json:"outcome"`
	Reason   string          `json:"reason,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	Duration float64         `json:"duration_seconds"`
	Run      *RunReport      `json:"run,omitempty"`
	Checks   []ArtifactCheck `json:"checks,omitempty"`
}

// RunReport captures the observable process results of a job.
type RunReport struct {
	PrepareExitCode *int   `json:"prepare_exit_code,omitempty"`
	RunExitCode     *int   `json:"run_exit_code,omitempty"`
	Output          string `json:"output,omitempty"`
	OutputTruncated bool   `json:"output_truncated,omitempty"`
}

// ArtifactCheck is the per-artifact validation result.
type ArtifactCheck struct {
	Path              string `json:"path"`
	Kind              string `json:"kind"`
	Present           bool   `json:"present"`
	SizeBytes         int64  `json:"size_bytes"`
	StructurallyValid bool   `json:"structurally_valid"`
	Escaped           bool   `json:"escaped,omitempty"`
	Detail            string `json:"detail,omitempty"`
}

// BatchReport wraps reports for a manifest run.
type BatchReport struct {
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Passed     int         `json:"passed"`
	Failed     int         `json:"failed"`
	Jobs       []JobReport `json:"jobs"`
}

// ErrorResponse is the standard error document for jobs that never ran.
type ErrorResponse struct {
	Error  string `json:"error"`
	Source string `json:"source,omitempty"`
}
