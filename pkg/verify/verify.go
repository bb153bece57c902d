package verify

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mendhq/mend/pkg/cluster"
	"github.com/mendhq/mend/pkg/log"
	"github.com/mendhq/mend/pkg/types"
)

// Config holds verification polling knobs.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Verifier polls workload status until a rollout completes or times out.
type Verifier struct {
	cfg    Config
	client cluster.Client
	now    func() time.Time
}

// New creates a Verifier over the given cluster client.
func New(cfg Config, client cluster.Client) *Verifier {
	return &Verifier{cfg: cfg, client: client, now: time.Now}
}

// Rollout watches the target until its observed generation catches up and
// updated, ready and available replicas all reach the desired count.
//
// Desired is taken from expectedReplicas when non-nil, otherwise from the
// workload's own spec. The result always carries the last observed counts,
// including on failure and timeout.
func (v *Verifier) Rollout(ctx context.Context, target types.Target, expectedReplicas *int) types.VerificationResult {
	logger := log.WithTarget(target.Namespace, target.Name)

	w, err := v.client.GetWorkload(ctx, target)
	if err != nil {
		logger.Error().Err(err).Msg("Verification failed on initial read")
		return types.VerificationResult{
			Status:  types.VerifyFailed,
			Message: "failed to read workload",
			Target:  target,
			Detail:  err.Error(),
		}
	}

	desired := w.SpecReplicas
	if expectedReplicas != nil {
		desired = *expectedReplicas
	}
	generation := w.Generation

	deadline := v.now().Add(v.cfg.Timeout)
	last := w

	for {
		if settled(last, generation, desired) {
			logger.Info().
				Int("desired", desired).
				Int("ready", last.ReadyReplicas).
				Msg("Rollout verified")
			return result(types.VerifySuccess, "rollout complete", target, desired, last, "")
		}

		if v.now().After(deadline) {
			logger.Warn().
				Int("desired", desired).
				Int("ready", last.ReadyReplicas).
				Msg("Rollout verification timed out")
			return result(types.VerifyTimedOut,
				fmt.Sprintf("rollout did not complete within %s", v.cfg.Timeout),
				target, desired, last, "")
		}

		if err := sleepCtx(ctx, v.jitteredInterval()); err != nil {
			return result(types.VerifyTimedOut, "verification cancelled", target, desired, last, err.Error())
		}

		w, err = v.client.GetWorkload(ctx, target)
		if err != nil {
			// A transient read error does not fail the verification; the
			// deadline bounds how long we keep trying
			logger.Warn().Err(err).Msg("Workload read failed during verification")
			continue
		}
		last = w
	}
}

func settled(w *cluster.Workload, generation int64, desired int) bool {
	return w.ObservedGeneration >= generation &&
		w.UpdatedReplicas >= desired &&
		w.ReadyReplicas >= desired &&
		w.AvailableReplicas >= desired
}

func result(status types.VerificationStatus, msg string, target types.Target, desired int, w *cluster.Workload, detail string) types.VerificationResult {
	return types.VerificationResult{
		Status:            status,
		Message:           msg,
		Target:            target,
		DesiredReplicas:   desired,
		UpdatedReplicas:   w.UpdatedReplicas,
		ReadyReplicas:     w.ReadyReplicas,
		AvailableReplicas: w.AvailableReplicas,
		Detail:            detail,
	}
}

// jitteredInterval spreads polls by up to 20% so concurrent verifications
// do not read in lockstep
func (v *Verifier) jitteredInterval() time.Duration {
	base := v.cfg.PollInterval
	if base <= 0 {
		base = time.Second
	}
	return base + time.Duration(rand.Int63n(int64(base)/5+1))
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
