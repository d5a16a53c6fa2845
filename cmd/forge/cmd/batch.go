package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"jobforge/internal/logger"
	"jobforge/internal/manifest"
	"jobforge/internal/observability"
	"jobforge/internal/orchestrator"
	"jobforge/internal/worker"
	"jobforge/pkg/api"
)

var batchCmd = &cobra.Command{
	Use:   "batch [manifest]",
	Short: "Run every job in a manifest",
	Long: `Run all jobs declared in a YAML manifest through a bounded worker pool.

Each job gets its own fresh working directory under the work root. Jobs run
concurrently up to --concurrency; --rate additionally throttles how fast new
jobs are launched. The command fails if any job does not pass.

Example manifest:

  jobs:
    - name: showsize
      kind: native-compiled
      source: showsize.c
      artifacts:
        - path: stdout.log
          kind: text-log
    - name: hist
      kind: interpreted-script
      source: hist.py
      args: ["100"]
      artifacts:
        - path: hist.pdf
          kind: binary-document
        - path: tree.csv
          kind: structured-data-file
          records: 100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		concurrency, _ := flags.GetInt("concurrency")
		rate, _ := flags.GetFloat64("rate")
		metricsAddr, _ := flags.GetString("metrics-addr")
		asJSON, _ := flags.GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := manifest.Load(args[0])
		if err != nil {
			return err
		}
		descs, err := f.Descriptors(cfg.WorkRoot)
		if err != nil {
			return err
		}

		log := logger.New()
		ctx := cmd.Context()

		if cfg.OTELEndpoint != "" {
			shutdownTracer, err := observability.InitTracer(ctx, "jobforge", cfg.OTELEndpoint)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					log.Error("tracer shutdown failed", "error", err)
				}
			}()
		}

		var metrics *observability.JobMetrics
		if metricsAddr != "" {
			handler, shutdownMetrics, err := observability.InitMetrics()
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}
			defer func() {
				if err := shutdownMetrics(context.Background()); err != nil {
					log.Error("metrics shutdown failed", "error", err)
				}
			}()

			metrics, err = observability.NewJobMetrics()
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}

			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", handler)
				log.Info("metrics listening", "addr", metricsAddr)
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		inv, err := newInvoker(cfg)
		if err != nil {
			return err
		}
		tc, timeout := orchestratorConfig(cfg)
		orc := orchestrator.New(inv, orchestrator.Config{
			Toolchain: tc,
			Timeout:   timeout,
		}, log, metrics)

		pool := worker.NewPool(orc, worker.PoolConfig{
			Concurrency: concurrency,
			LaunchRate:  rate,
		}, log)

		started := time.Now()
		outcomes := pool.Run(ctx, descs)
		finished := time.Now()

		report := api.BatchReport{StartedAt: started, FinishedAt: finished}
		for _, o := range outcomes {
			if o.Err != nil {
				report.Failed++
				report.Jobs = append(report.Jobs, api.JobReport{
					JobID:   o.Descriptor.ID.String(),
					Kind:    string(o.Descriptor.Kind),
					Source:  o.Descriptor.SourcePath,
					WorkDir: o.Descriptor.WorkDir,
					Detail:  o.Err.Error(),
				})
				continue
			}
			if o.Result.Verdict.IsPassed() {
				report.Passed++
			} else {
				report.Failed++
			}
			report.Jobs = append(report.Jobs, buildReport(o.Descriptor, o.Result))
		}

		if asJSON {
			if err := printJSON(cmd, report); err != nil {
				return err
			}
		} else {
			printBatch(cmd, outcomes, finished.Sub(started))
		}

		if report.Failed > 0 {
			return fmt.Errorf("%d of %d jobs failed", report.Failed, len(outcomes))
		}
		return nil
	},
}

func printBatch(cmd *cobra.Command, outcomes []worker.Outcome, elapsed time.Duration) {
	passed := 0
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			cmd.Printf("%s %s: %v\n", colorRed+"✗"+colorReset, o.Descriptor.SourcePath, o.Err)
		case o.Result.Verdict.IsPassed():
			passed++
			cmd.Printf("%s %s\n", colorGreen+"✓"+colorReset, o.Descriptor.SourcePath)
		default:
			cmd.Printf("%s %s: %s (%s)\n", colorRed+"✗"+colorReset, o.Descriptor.SourcePath,
				o.Result.Verdict.Outcome, o.Result.Verdict.Reason)
		}
	}
	cmd.Println("──────────────────────────────")
	cmd.Printf("%d/%d passed in %s\n", passed, len(outcomes), elapsed.Round(time.Millisecond))
}

func init() {
	flags := batchCmd.Flags()
	flags.IntP("concurrency", "c", 1, "jobs in flight at once")
	flags.Float64("rate", 0, "job launches per second (0 = unthrottled)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :6162)")
	flags.Bool("json", false, "emit the full batch report as JSON")

	rootCmd.AddCommand(batchCmd)
}
