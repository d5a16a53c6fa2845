package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jobforge/internal/artifact"
	"jobforge/internal/job"
	"jobforge/internal/verdict"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [workdir]",
	Short: "Re-validate artifacts in an existing working directory",
	Long: `Validate declared artifacts against a working directory left behind by a
previous run, without executing anything. Useful when deciding whether a
finished job's outputs are still intact.

Example:
  forge inspect /tmp/jobforge/3f2a... \
    --artifact binary-document:hist.pdf \
    --artifact structured-data-file:tree.csv:100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		artifactFlags, _ := cmd.Flags().GetStringArray("artifact")
		asJSON, _ := cmd.Flags().GetBool("json")

		workDir := args[0]
		if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
			return fmt.Errorf("working directory %s is not readable", workDir)
		}

		specs := make([]job.ArtifactSpec, 0, len(artifactFlags))
		for _, a := range artifactFlags {
			spec, err := parseArtifactFlag(a)
			if err != nil {
				return err
			}
			specs = append(specs, spec)
		}

		checks := artifact.Validate(workDir, specs)
		v := verdict.Report(nil, checks)

		if asJSON {
			if err := printJSON(cmd, struct {
				WorkDir string      `json:"work_dir"`
				Outcome string      `json:"outcome"`
				Reason  string      `json:"reason,omitempty"`
				Detail  string      `json:"detail,omitempty"`
				Checks  interface{} `json:"checks"`
			}{workDir, string(v.Outcome), string(v.Reason), v.Detail, checkReports(checks)}); err != nil {
				return err
			}
		} else {
			cmd.Printf("%s %s%s%s\n", outcomeIcon(v.Outcome), colorBold, v.Outcome, colorReset)
			printChecks(cmd, checks)
		}

		if !v.IsPassed() {
			return fmt.Errorf("validation failed: %s (%s)", v.Outcome, v.Reason)
		}
		return nil
	},
}

func init() {
	flags := inspectCmd.Flags()
	flags.StringArrayP("artifact", "a", nil, "expected artifact as kind:path[:records] (repeatable, required)")
	flags.Bool("json", false, "emit results as JSON")
	inspectCmd.MarkFlagRequired("artifact")

	rootCmd.AddCommand(inspectCmd)
}
