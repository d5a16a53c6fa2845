package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"jobforge/internal/artifact"
	"jobforge/internal/job"
	"jobforge/internal/orchestrator"
	"jobforge/internal/verdict"
	"jobforge/pkg/api"
)

// parseArtifactFlag parses one --artifact value of the form
// kind:path[:records], e.g. "structured-data-file:tree.csv:100".
func parseArtifactFlag(s string) (job.ArtifactSpec, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return job.ArtifactSpec{}, fmt.Errorf("artifact %q: want kind:path[:records]", s)
	}

	kind, err := job.ParseArtifactKind(parts[0])
	if err != nil {
		return job.ArtifactSpec{}, err
	}

	spec := job.ArtifactSpec{Path: parts[1], Kind: kind}
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n <= 0 {
			return job.ArtifactSpec{}, fmt.Errorf("artifact %q: record count must be a positive integer", s)
		}
		spec.ExpectedRecords = n
	}
	return spec, nil
}

// parseEnvFlags turns KEY=VALUE pairs into a map.
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("env %q: want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

func buildReport(d *job.Descriptor, res *orchestrator.Result) api.JobReport {
	r := api.JobReport{
		JobID:    d.ID.String(),
		Kind:     string(d.Kind),
		Source:   d.SourcePath,
		WorkDir:  d.WorkDir,
		Outcome:  string(res.Verdict.Outcome),
		Reason:   string(res.Verdict.Reason),
		Detail:   res.Verdict.Detail,
		Duration: (res.Execution.PrepareDuration + res.Execution.RunDuration).Seconds(),
		Run: &api.RunReport{
			PrepareExitCode: exitCodeOrNil(res.Execution.PrepareExit),
			RunExitCode:     exitCodeOrNil(res.Execution.RunExit),
			Output:          string(res.Execution.Output),
			OutputTruncated: res.Execution.Truncated,
		},
		Checks: checkReports(res.Checks),
	}
	return r
}

func exitCodeOrNil(code int) *int {
	if code < 0 {
		return nil
	}
	return &code
}

func checkReports(checks []artifact.Check) []api.ArtifactCheck {
	out := make([]api.ArtifactCheck, 0, len(checks))
	for _, c := range checks {
		out = append(out, api.ArtifactCheck{
			Path:              c.Spec.Path,
			Kind:              string(c.Spec.Kind),
			Present:           c.Present,
			SizeBytes:         c.SizeBytes,
			StructurallyValid: c.StructurallyValid,
			Escaped:           c.Escaped,
			Detail:            c.Detail,
		})
	}
	return out
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}

// ANSI color codes
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorDim   = "\033[2m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

func outcomeIcon(outcome verdict.Outcome) string {
	if outcome == verdict.Passed {
		return colorGreen + "✓" + colorReset
	}
	return colorRed + "✗" + colorReset
}

func printVerdict(cmd *cobra.Command, d *job.Descriptor, v *verdict.Verdict) {
	cmd.Printf("%s %s%s%s\n", outcomeIcon(v.Outcome), colorBold, v.Outcome, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sJob ID:%s   %s\n", colorDim, colorReset, d.ID)
	cmd.Printf("%sSource:%s   %s\n", colorDim, colorReset, d.SourcePath)
	cmd.Printf("%sWorkdir:%s  %s\n", colorDim, colorReset, d.WorkDir)
	if v.Reason != "" {
		cmd.Printf("%sReason:%s   %s%s%s\n", colorDim, colorReset, colorRed, v.Reason, colorReset)
	}
	if v.Detail != "" {
		cmd.Printf("%sDetail:%s   %s\n", colorDim, colorReset, v.Detail)
	}
	printChecks(cmd, v.Checks)
}

func printChecks(cmd *cobra.Command, checks []artifact.Check) {
	for _, c := range checks {
		icon := colorGreen + "✓" + colorReset
		if !c.OK() {
			icon = colorRed + "✗" + colorReset
		}
		line := fmt.Sprintf("%s %s (%s, %d bytes)", icon, c.Spec.Path, c.Spec.Kind, c.SizeBytes)
		if c.Detail != "" {
			line += " " + colorCyan + c.Detail + colorReset
		}
		cmd.Println(line)
	}
}
