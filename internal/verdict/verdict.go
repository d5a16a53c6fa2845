// Package verdict turns execution and validation results into the single
// outcome record exposed to external callers.
package verdict

import (
	"fmt"
	"strings"

	"jobforge/internal/artifact"
)

// Outcome classifies the final state of one job invocation.
type Outcome string

const (
	Passed          Outcome = "passed"
	PrepareFailed   Outcome = "prepare-failed"
	RunFailed       Outcome = "run-failed"
	ArtifactMissing Outcome = "artifact-missing"
	ArtifactInvalid Outcome = "artifact-invalid"
)

// Reason narrows a failed outcome to the exact sub-step that caused it.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonCompileError       Reason = "compile-error"
	ReasonRuntimeUnavailable Reason = "runtime-unavailable"
	ReasonTimeout            Reason = "timeout"
	ReasonSandboxEscape      Reason = "artifact-escaped-sandbox"
	ReasonProcessCrashed     Reason = "process-crashed"
	ReasonCanceled           Reason = "canceled"
)

// Failure describes a short-circuiting failure detected before or during
// execution. Prepare and run failures are kept distinct so a compile error
// is never confused with a runtime one.
type Failure struct {
	Outcome Outcome
	Reason  Reason
	Detail  string
}

// Verdict is the final, immutable outcome record for one job execution.
// It is the only value the core exposes upward.
type Verdict struct {
	Outcome Outcome
	Reason  Reason

	// Detail is human-readable diagnostic text set by whichever step first
	// detected the failure. For artifact failures it enumerates every
	// failing artifact, not just the first.
	Detail string

	// Checks carries the full artifact validation results for diagnostics.
	// Empty when the job short-circuited before validation.
	Checks []artifact.Check
}

// IsPassed reports whether the job passed outright.
func (v *Verdict) IsPassed() bool {
	return v.Outcome == Passed
}

// Report aggregates a possible short-circuiting failure and the artifact
// checks into a Verdict. Pure: no side effects, no retries.
//
// A non-nil failure maps directly. Otherwise the job passes only if every
// declared artifact is present and structurally valid; an escaped artifact
// outranks everything else, then missing outranks invalid.
func Report(failure *Failure, checks []artifact.Check) *Verdict {
	if failure != nil {
		return &Verdict{
			Outcome: failure.Outcome,
			Reason:  failure.Reason,
			Detail:  failure.Detail,
			Checks:  checks,
		}
	}

	var (
		escaped []string
		missing []string
		invalid []string
	)
	for _, c := range checks {
		switch {
		case c.Escaped:
			escaped = append(escaped, c.Detail)
		case !c.Present:
			missing = append(missing, c.Detail)
		case !c.StructurallyValid:
			invalid = append(invalid, c.Detail)
		}
	}

	switch {
	case len(escaped) > 0:
		return &Verdict{
			Outcome: RunFailed,
			Reason:  ReasonSandboxEscape,
			Detail:  joinDetails(escaped, missing, invalid),
			Checks:  checks,
		}
	case len(missing) > 0:
		return &Verdict{
			Outcome: ArtifactMissing,
			Detail:  joinDetails(missing, invalid),
			Checks:  checks,
		}
	case len(invalid) > 0:
		return &Verdict{
			Outcome: ArtifactInvalid,
			Detail:  joinDetails(invalid),
			Checks:  checks,
		}
	}

	detail := "ok"
	if n := len(checks); n > 0 {
		detail = fmt.Sprintf("ok: %d artifact(s) validated", n)
	}
	return &Verdict{Outcome: Passed, Detail: detail, Checks: checks}
}

func joinDetails(groups ...[]string) string {
	var all []string
	for _, g := range groups {
		all = append(all, g...)
	}
	return strings.Join(all, "; ")
}
