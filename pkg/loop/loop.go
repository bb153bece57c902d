package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mendhq/mend/pkg/audit"
	"github.com/mendhq/mend/pkg/cluster"
	"github.com/mendhq/mend/pkg/events"
	"github.com/mendhq/mend/pkg/log"
	"github.com/mendhq/mend/pkg/metrics"
	"github.com/mendhq/mend/pkg/runner"
	"github.com/mendhq/mend/pkg/types"
	"github.com/mendhq/mend/pkg/verify"
)

// Fleet guardrail block reasons
const (
	ReasonMaxActionsPerHour   = "max_actions_per_hour"
	ReasonMaxReplicas         = "max_replicas"
	ReasonMaxScaleIncrease15m = "max_scale_increase_15m"
)

// Cause families the closed loop maps to a scale-up; everything else
// actionable restarts. Matched case-insensitively as substrings, so
// "cpu_saturation" and "HighCPU" both scale.
var scaleCauseHints = []string{"cpu", "saturation"}

func isScaleCause(cause string) bool {
	c := strings.ToLower(cause)
	for _, hint := range scaleCauseHints {
		if strings.Contains(c, hint) {
			return true
		}
	}
	return false
}

// Config holds the closed-loop worker and fleet guardrail knobs.
type Config struct {
	Cooldown            time.Duration
	MaxRetries          int
	BaseBackoff         time.Duration
	MaxActionsPerHour   int
	MaxReplicas         int
	MaxScaleIncrease15m int
	QueueMaxSize        int
}

// Loop is the closed-loop remediation controller. Signals are accepted onto
// a queue and consumed by a single worker, which maps each signal to an
// action, applies fleet guardrails, executes, verifies and retries.
type Loop struct {
	cfg      Config
	client   cluster.Client
	runner   *runner.Runner
	verifier *verify.Verifier
	auditLog *audit.Logger
	broker   *events.Broker
	resolver cluster.Resolver
	queue    *queue

	now      func() time.Time
	schedule func(d time.Duration, fn func())

	// Guardrail bookkeeping, touched only by the worker goroutine
	lastActions  map[string]time.Time // target/type -> last success
	actionTimes  []time.Time          // successful executions, pruned hourly
	scaleEvents  []scaleEvent         // net replica increases, pruned at 15m
}

type scaleEvent struct {
	at    time.Time
	delta int
}

// New creates a Loop. auditLog and broker may be nil.
func New(cfg Config, client cluster.Client, run *runner.Runner, verifier *verify.Verifier, auditLog *audit.Logger, broker *events.Broker, resolver cluster.Resolver) *Loop {
	return &Loop{
		cfg:         cfg,
		client:      client,
		runner:      run,
		verifier:    verifier,
		auditLog:    auditLog,
		broker:      broker,
		resolver:    resolver,
		queue:       newQueue(cfg.QueueMaxSize),
		now:         time.Now,
		schedule:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		lastActions: make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Used by tests.
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
}

// SetScheduler overrides retry scheduling. Used by tests.
func (l *Loop) SetScheduler(fn func(d time.Duration, fn func())) {
	l.schedule = fn
}

// Enqueue accepts a signal for processing. Returns false when the queue is
// at its cap; the signal is dropped, never blocked on.
func (l *Loop) Enqueue(sig types.Signal) bool {
	it := &item{
		RequestID:  uuid.New().String(),
		Signal:     sig,
		EnqueuedAt: l.now(),
	}
	if !l.queue.push(it) {
		metrics.SignalsTotal.WithLabelValues(string(sig.Kind), "dropped_queue_full").Inc()
		log.WithComponent("loop").Warn().
			Str("service", sig.Service()).
			Msg("Queue full, dropping signal")
		l.publish(events.EventSignalDropped, sig.Service(), "queue full")
		return false
	}
	metrics.SignalsTotal.WithLabelValues(string(sig.Kind), "accepted").Inc()
	l.publish(events.EventSignalAccepted, sig.Service(), string(sig.Kind))
	return true
}

// QueueDepth reports the number of items awaiting processing.
func (l *Loop) QueueDepth() int {
	return l.queue.depth()
}

// Run consumes the queue until stopCh closes. It is the only goroutine that
// touches guardrail state.
func (l *Loop) Run(stopCh <-chan struct{}) {
	log.WithComponent("loop").Info().Msg("Closed-loop worker started")
	for {
		it, ok := l.queue.pop(stopCh)
		if !ok {
			log.WithComponent("loop").Info().Msg("Closed-loop worker stopped")
			return
		}
		l.process(context.Background(), it)
	}
}

// process drives one item to a terminal outcome or a scheduled retry
func (l *Loop) process(ctx context.Context, it *item) {
	logger := log.WithComponent("loop").With().
		Str("request_id", it.RequestID).
		Str("service", it.Signal.Service()).
		Int("attempt", it.Attempt).
		Logger()

	plan, ok := l.mapSignal(ctx, it.Signal)
	if !ok {
		logger.Debug().Msg("Signal maps to no action")
		return
	}

	key := plan.Target.Key() + "/" + string(plan.Type)
	if last, seen := l.lastActions[key]; seen && l.now().Sub(last) < l.cfg.Cooldown {
		// Cooldown skips are silent: frequent and expected under signal storms
		logger.Debug().Str("target", plan.Target.Key()).Msg("Target in cooldown, skipping")
		return
	}

	// The scale delta is read once, before execution, so the net-increase
	// history records what the action actually changed
	delta := 0
	if plan.Type == types.ActionScale && plan.Scale != nil {
		delta = l.scaleDelta(ctx, plan)
	}

	if reason := l.checkGuardrails(plan, delta); reason != "" {
		metrics.GuardrailBlocksTotal.WithLabelValues(string(plan.Type), reason).Inc()
		logger.Warn().
			Str("target", plan.Target.Key()).
			Str("reason", reason).
			Msg("Fleet guardrail blocked action")
		l.publish(events.EventActionBlocked, plan.Target.Name, reason)
		l.writeAudit(it, plan, reason, "blocked", 0, "")
		return
	}

	res := l.runner.Run(ctx, plan)

	var verification types.VerificationStatus
	if res.Status == types.RunSuccess && plan.Verify {
		var expected *int
		if plan.Scale != nil {
			expected = &plan.Scale.Replicas
		}
		vres := l.verifier.Rollout(ctx, plan.Target, expected)
		verification = vres.Status
	}

	switch {
	case res.Status == types.RunSuccess && verification == types.VerifySuccess:
		l.recordSuccess(plan, key, delta)
		metrics.ActionsTotal.WithLabelValues(string(plan.Type), string(res.Status), string(verification)).Inc()
		metrics.ClosedLoopDuration.Observe(l.now().Sub(it.EnqueuedAt).Seconds())
		logger.Info().
			Str("target", plan.Target.Key()).
			Str("type", string(plan.Type)).
			Msg("Action executed and verified")
		l.publish(events.EventActionVerified, plan.Target.Name, string(plan.Type))
		l.writeAudit(it, plan, "", "success", res.Attempts, verification)

	case res.Status == types.RunSuccess && !plan.Verify:
		l.recordSuccess(plan, key, delta)
		metrics.ActionsTotal.WithLabelValues(string(plan.Type), string(res.Status), "skipped").Inc()
		metrics.ClosedLoopDuration.Observe(l.now().Sub(it.EnqueuedAt).Seconds())
		l.publish(events.EventActionExecuted, plan.Target.Name, string(plan.Type))
		l.writeAudit(it, plan, "", "success", res.Attempts, "")

	case res.Status == types.RunSuccess && verification == types.VerifyFailed:
		// A failed verification is deterministic; repeating the action
		// cannot change the outcome
		metrics.ActionsTotal.WithLabelValues(string(plan.Type), string(res.Status), string(verification)).Inc()
		logger.Error().Str("target", plan.Target.Key()).Msg("Verification failed, not retrying")
		l.publish(events.EventActionFailed, plan.Target.Name, "verification failed")
		l.writeAudit(it, plan, "", "verification_failed", res.Attempts, verification)

	default:
		// Execution failure or verification timeout: retry unless the
		// failure was a guardrail refusal or the budget is spent
		if isGuardrailFailure(res) {
			metrics.ActionsTotal.WithLabelValues(string(plan.Type), string(res.Status), string(verification)).Inc()
			logger.Warn().Str("error", res.Error).Msg("Guardrail refusal, not retrying")
			l.publish(events.EventActionBlocked, plan.Target.Name, res.Error)
			l.writeAudit(it, plan, res.Error, "blocked", res.Attempts, verification)
			return
		}
		if it.Attempt >= l.cfg.MaxRetries {
			metrics.ActionsTotal.WithLabelValues(string(plan.Type), "failed", string(verification)).Inc()
			metrics.ClosedLoopDuration.Observe(l.now().Sub(it.EnqueuedAt).Seconds())
			logger.Error().
				Str("target", plan.Target.Key()).
				Str("error", res.Error).
				Msg("Retry budget exhausted, giving up")
			l.publish(events.EventActionFailed, plan.Target.Name, res.Error)
			l.writeAudit(it, plan, "", "failed", res.Attempts, verification)
			return
		}
		l.scheduleRetry(it, plan, verification)
	}
}

// mapSignal decides what, if anything, the closed loop should do about a
// signal. Resource pressure scales up by one; everything else actionable
// restarts.
func (l *Loop) mapSignal(ctx context.Context, sig types.Signal) (types.ActionPlan, bool) {
	target := types.Target{
		Kind:      "Deployment",
		Namespace: l.resolver.Namespace,
		Name:      l.resolver.WorkloadName(sig.Service()),
	}

	switch sig.Kind {
	case types.SignalAnomaly:
		if sig.Anomaly == nil || !sig.Anomaly.IsAnomaly {
			return types.ActionPlan{}, false
		}
		if sig.Anomaly.Type == types.AnomalyResource {
			return l.scaleUpPlan(ctx, target)
		}
		return l.restartPlan(target), true

	case types.SignalRCA:
		if sig.RCA == nil || len(sig.RCA.RankedCauses) == 0 {
			return types.ActionPlan{}, false
		}
		if isScaleCause(sig.RCA.RankedCauses[0].Cause) {
			return l.scaleUpPlan(ctx, target)
		}
		return l.restartPlan(target), true
	}
	return types.ActionPlan{}, false
}

// scaleUpPlan reads the current replica count and plans current+1. An
// unreadable workload yields no plan rather than a guess.
func (l *Loop) scaleUpPlan(ctx context.Context, target types.Target) (types.ActionPlan, bool) {
	w, err := l.client.GetWorkload(ctx, target)
	if err != nil {
		log.WithComponent("loop").Warn().
			Str("target", target.Key()).
			Err(err).
			Msg("Cannot read current replicas, dropping scale signal")
		return types.ActionPlan{}, false
	}
	return types.ActionPlan{
		Type:   types.ActionScale,
		Target: target,
		Verify: true,
		Scale:  &types.ScaleSpec{Replicas: w.SpecReplicas + 1},
	}, true
}

func (l *Loop) restartPlan(target types.Target) types.ActionPlan {
	return types.ActionPlan{
		Type:   types.ActionRestart,
		Target: target,
		Verify: true,
	}
}

// checkGuardrails applies the fleet-wide limits and returns the block
// reason, or empty when the plan may proceed. A limit set to zero is
// disabled, not a zero budget.
func (l *Loop) checkGuardrails(plan types.ActionPlan, delta int) string {
	now := l.now()

	l.pruneHistory(now)
	if l.cfg.MaxActionsPerHour > 0 && len(l.actionTimes) >= l.cfg.MaxActionsPerHour {
		return ReasonMaxActionsPerHour
	}

	if plan.Type == types.ActionScale && plan.Scale != nil {
		if l.cfg.MaxReplicas > 0 && plan.Scale.Replicas > l.cfg.MaxReplicas {
			return ReasonMaxReplicas
		}

		if l.cfg.MaxScaleIncrease15m > 0 && delta > 0 {
			net := delta
			for _, ev := range l.scaleEvents {
				net += ev.delta
			}
			if net > l.cfg.MaxScaleIncrease15m {
				return ReasonMaxScaleIncrease15m
			}
		}
	}
	return ""
}

func (l *Loop) scaleDelta(ctx context.Context, plan types.ActionPlan) int {
	w, err := l.client.GetWorkload(ctx, plan.Target)
	if err != nil {
		// Unknown baseline: treat the full request as an increase
		return plan.Scale.Replicas
	}
	return plan.Scale.Replicas - w.SpecReplicas
}

func (l *Loop) recordSuccess(plan types.ActionPlan, cooldownKey string, delta int) {
	now := l.now()
	l.lastActions[cooldownKey] = now
	l.actionTimes = append(l.actionTimes, now)
	if plan.Type == types.ActionScale && delta != 0 {
		l.scaleEvents = append(l.scaleEvents, scaleEvent{at: now, delta: delta})
	}
	l.pruneHistory(now)
}

func (l *Loop) pruneHistory(now time.Time) {
	hourAgo := now.Add(-time.Hour)
	kept := l.actionTimes[:0]
	for _, t := range l.actionTimes {
		if t.After(hourAgo) {
			kept = append(kept, t)
		}
	}
	l.actionTimes = kept

	windowAgo := now.Add(-15 * time.Minute)
	keptEvents := l.scaleEvents[:0]
	for _, ev := range l.scaleEvents {
		if ev.at.After(windowAgo) {
			keptEvents = append(keptEvents, ev)
		}
	}
	l.scaleEvents = keptEvents
}

// scheduleRetry re-enqueues the item with exponential backoff, preserving
// the original enqueue time
func (l *Loop) scheduleRetry(it *item, plan types.ActionPlan, verification types.VerificationStatus) {
	backoff := l.cfg.BaseBackoff << uint(it.Attempt)
	next := &item{
		RequestID:  it.RequestID,
		Signal:     it.Signal,
		Attempt:    it.Attempt + 1,
		EnqueuedAt: it.EnqueuedAt,
	}

	metrics.RetriesTotal.WithLabelValues(string(plan.Type)).Inc()
	log.WithComponent("loop").Info().
		Str("request_id", it.RequestID).
		Str("target", plan.Target.Key()).
		Int("next_attempt", next.Attempt).
		Dur("backoff", backoff).
		Str("verification", string(verification)).
		Msg("Scheduling retry")
	l.publish(events.EventRetryScheduled, plan.Target.Name, fmt.Sprintf("attempt %d", next.Attempt))

	l.schedule(backoff, func() {
		if !l.queue.push(next) {
			metrics.SignalsTotal.WithLabelValues(string(next.Signal.Kind), "dropped_queue_full").Inc()
			log.WithComponent("loop").Warn().
				Str("request_id", next.RequestID).
				Msg("Queue full, dropping retry")
		}
	})
}

func (l *Loop) writeAudit(it *item, plan types.ActionPlan, guardrailReason, outcome string, attempts int, verification types.VerificationStatus) {
	if l.auditLog == nil {
		return
	}

	decision := types.Decision{Type: plan.Type, DryRun: plan.DryRun, Verify: plan.Verify}
	if plan.Scale != nil {
		decision.Replicas = plan.Scale.Replicas
	}

	ev := types.AuditEvent{
		Timestamp:       l.now().UTC(),
		RequestID:       it.RequestID,
		Source:          "closed_loop",
		Signal:          it.Signal.Summary(),
		Decision:        decision,
		GuardrailReason: guardrailReason,
		Outcome:         outcome,
		Attempts:        attempts,
		Verification:    verification,
	}
	if err := l.auditLog.Append(ev); err != nil {
		log.WithComponent("loop").Error().Err(err).Msg("Failed to append audit event")
	}
}

func (l *Loop) publish(typ events.EventType, name, message string) {
	if l.broker == nil {
		return
	}
	l.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    typ,
		Message: message,
		Metadata: map[string]string{
			"workload": name,
		},
	})
}

func isGuardrailFailure(res types.RunnerResult) bool {
	return res.Status == types.RunFailed &&
		strings.Contains(res.Error, cluster.ErrGuardrail.Error())
}
