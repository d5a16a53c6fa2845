// Package worker runs batches of jobs through the orchestrator with bounded
// concurrency. Each job remains an independent invocation of the execution
// core; the pool only fans them out.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"jobforge/internal/job"
	"jobforge/internal/orchestrator"
)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// Concurrency is the number of jobs in flight at once (default: 1).
	Concurrency int

	// LaunchRate throttles job starts per second. Zero means unthrottled.
	LaunchRate float64
}

// Outcome pairs a descriptor with what running it produced. Err is non-nil
// only for environment failures, where no verdict exists.
type Outcome struct {
	Descriptor *job.Descriptor
	Result     *orchestrator.Result
	Err        error
}

// Pool dispatches jobs to the orchestrator. Working directories must already
// be distinct per descriptor; the pool never shares or reassigns them.
type Pool struct {
	orc     *orchestrator.Orchestrator
	config  PoolConfig
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewPool creates a worker pool.
func NewPool(orc *orchestrator.Orchestrator, config PoolConfig, log *slog.Logger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.LaunchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.LaunchRate), 1)
	}

	return &Pool{
		orc:     orc,
		config:  config,
		limiter: limiter,
		log:     log,
	}
}

// Run executes every descriptor and returns one Outcome per job, in input
// order. On context cancellation, jobs not yet started are marked with the
// context error and in-flight jobs are allowed to finish.
func (p *Pool) Run(ctx context.Context, descs []*job.Descriptor) []Outcome {
	outcomes := make([]Outcome, len(descs))

	// Semaphore to limit concurrency
	sem := make(chan struct{}, p.config.Concurrency)
	var wg sync.WaitGroup

	for i, d := range descs {
		outcomes[i].Descriptor = d

		if err := p.limiter.Wait(ctx); err != nil {
			outcomes[i].Err = err
			continue
		}

		select {
		case <-ctx.Done():
			outcomes[i].Err = ctx.Err()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, d *job.Descriptor) {
			defer wg.Done()
			defer func() { <-sem }()

			// Detached from the batch context: an in-flight job drains to
			// completion on cancel, bounded by the orchestrator's own
			// timeout.
			res, err := p.orc.Run(context.WithoutCancel(ctx), d)
			outcomes[i].Result = res
			outcomes[i].Err = err
		}(i, d)
	}

	wg.Wait()

	p.log.Info("batch finished", "jobs", len(descs), "concurrency", p.config.Concurrency)
	return outcomes
}
