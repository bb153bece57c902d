package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/mendhq/mend/pkg/cluster"
	"github.com/mendhq/mend/pkg/log"
	"github.com/mendhq/mend/pkg/metrics"
	"github.com/mendhq/mend/pkg/types"
)

// Config holds execution retry and bounds knobs.
type Config struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MinReplicas int
	MaxReplicas int
}

// Runner executes action plans against the cluster with bounded retries.
// It always returns a structured result; failures never escape as panics.
type Runner struct {
	cfg    Config
	client cluster.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Runner over the given cluster client.
func New(cfg Config, client cluster.Client) *Runner {
	return &Runner{cfg: cfg, client: client, sleep: sleepCtx}
}

// SetSleep overrides the backoff sleeper. Used by tests.
func (r *Runner) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	r.sleep = fn
}

// Run executes one plan. A scale outside the replica bounds is refused
// before any attempt; a dry-run plan validates and returns without touching
// the cluster; everything else retries transient failures with exponential
// backoff and jitter.
func (r *Runner) Run(ctx context.Context, plan types.ActionPlan) (result types.RunnerResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = types.RunnerResult{
				Status:   types.RunFailed,
				Attempts: result.Attempts,
				Duration: time.Since(start),
				Error:    fmt.Sprintf("panic during action execution: %v", rec),
			}
			log.WithComponent("runner").Error().
				Str("target", plan.Target.Key()).
				Interface("panic", rec).
				Msg("Recovered panic during action execution")
		}
		metrics.ActionDuration.Observe(result.Duration.Seconds())
	}()

	// Bounds are checked before the first attempt so a bad plan costs zero
	// cluster calls
	if plan.Type == types.ActionScale {
		if plan.Scale == nil {
			return types.RunnerResult{
				Status:   types.RunFailed,
				Duration: time.Since(start),
				Error:    "scale plan without replica spec",
			}
		}
		if plan.Scale.Replicas < r.cfg.MinReplicas || plan.Scale.Replicas > r.cfg.MaxReplicas {
			return types.RunnerResult{
				Status:   types.RunFailed,
				Duration: time.Since(start),
				Error: fmt.Sprintf("%v: replicas %d outside [%d, %d]",
					cluster.ErrGuardrail, plan.Scale.Replicas, r.cfg.MinReplicas, r.cfg.MaxReplicas),
			}
		}
	}

	if plan.DryRun {
		log.WithComponent("runner").Info().
			Str("target", plan.Target.Key()).
			Str("type", string(plan.Type)).
			Msg("Dry run, skipping execution")
		return types.RunnerResult{
			Status:   types.RunDryRun,
			Duration: time.Since(start),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		lastErr = r.execute(ctx, plan)
		if lastErr == nil {
			return types.RunnerResult{
				Status:   types.RunSuccess,
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		// Guardrail refusals are deliberate; retrying cannot help
		if errors.Is(lastErr, cluster.ErrGuardrail) {
			break
		}
		if attempt == r.cfg.MaxRetries {
			break
		}

		backoff := r.backoff(attempt)
		log.WithComponent("runner").Warn().
			Str("target", plan.Target.Key()).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("Action attempt failed, backing off")
		if err := r.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
	}

	return types.RunnerResult{
		Status:   types.RunFailed,
		Attempts: result.Attempts,
		Duration: time.Since(start),
		Error:    lastErr.Error(),
	}
}

func (r *Runner) execute(ctx context.Context, plan types.ActionPlan) error {
	switch plan.Type {
	case types.ActionScale:
		return r.client.Scale(ctx, plan.Target, plan.Scale.Replicas, false)
	case types.ActionRestart:
		return r.client.Restart(ctx, plan.Target, false)
	case types.ActionPatch:
		if plan.Patch == nil {
			return errors.New("patch plan without body")
		}
		return r.client.Patch(ctx, plan.Target, plan.Patch.Body, false)
	default:
		return fmt.Errorf("unknown action type %q", plan.Type)
	}
}

// backoff returns base*2^attempt capped at MaxBackoff, plus up to 20% jitter
func (r *Runner) backoff(attempt int) time.Duration {
	d := r.cfg.BaseBackoff << uint(attempt)
	if d > r.cfg.MaxBackoff || d <= 0 {
		d = r.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
