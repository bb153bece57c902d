package evaluator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mendhq/mend/pkg/audit"
	"github.com/mendhq/mend/pkg/cluster"
	"github.com/mendhq/mend/pkg/log"
	"github.com/mendhq/mend/pkg/metrics"
	"github.com/mendhq/mend/pkg/policy"
	"github.com/mendhq/mend/pkg/types"
)

// Guardrail reasons recorded on every evaluation
const (
	ReasonNoMatchFallback        = "no_match_fallback_restart_dry_run"
	ReasonRestartBlockedCooldown = "restart_blocked_by_cooldown"
	ReasonRestartAllowed         = "restart_allowed"
	ReasonScaleClamped           = "scale_outside_limits_clamped_dry_run"
	ReasonScaleWithinLimits      = "scale_within_limits"
)

// Config holds the per-plan guardrail knobs.
type Config struct {
	MinReplicas     int
	MaxReplicas     int
	RestartCooldown time.Duration
}

// Outcome is the full result of one evaluation: the plan to run plus the
// audit fields describing how it was chosen.
type Outcome struct {
	Plan            types.ActionPlan
	Matched         []types.MatchedPolicy
	Chosen          *types.MatchedPolicy
	GuardrailReason string
	RequestID       string
}

// Evaluator turns a signal and the active rule set into a single
// guardrail-adjusted action plan. Evaluation is deterministic: the same
// signal against the same rules and cooldown state yields the same plan.
type Evaluator struct {
	cfg      Config
	store    *policy.Store
	auditLog *audit.Logger
	resolver cluster.Resolver
	now      func() time.Time

	mu           sync.Mutex
	lastRestarts map[string]time.Time // service -> last allowed restart
}

// New creates an Evaluator. auditLog may be nil, in which case evaluations
// are not persisted.
func New(cfg Config, store *policy.Store, auditLog *audit.Logger, resolver cluster.Resolver) *Evaluator {
	return &Evaluator{
		cfg:          cfg,
		store:        store,
		auditLog:     auditLog,
		resolver:     resolver,
		now:          time.Now,
		lastRestarts: make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Used by tests.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate matches the signal against the active rules, applies the single
// plan guardrails and writes one audit event. It never returns an error: an
// unmatchable signal degrades to a dry-run restart.
func (e *Evaluator) Evaluate(sig types.Signal) Outcome {
	policies := e.store.Policies()

	var matched []types.MatchedPolicy
	var candidates []policy.Policy
	for _, pol := range policies {
		if matchesAll(pol, sig) {
			matched = append(matched, types.MatchedPolicy{
				Name:       pol.Name,
				Priority:   pol.Priority,
				Conditions: len(pol.Conditions),
			})
			candidates = append(candidates, pol)
		}
	}

	target := types.Target{
		Kind:      "Deployment",
		Namespace: e.resolver.Namespace,
		Name:      e.resolver.WorkloadName(sig.Service()),
	}

	var out Outcome
	if len(candidates) == 0 {
		out = Outcome{
			Plan: types.ActionPlan{
				Type:   types.ActionRestart,
				Target: target,
				DryRun: true,
				Verify: true,
				Reason: ReasonNoMatchFallback,
			},
			GuardrailReason: ReasonNoMatchFallback,
		}
	} else {
		chosen := pickWinner(candidates)
		chosenSummary := types.MatchedPolicy{
			Name:       chosen.Name,
			Priority:   chosen.Priority,
			Conditions: len(chosen.Conditions),
		}
		out = e.applyGuardrails(chosen, sig, target)
		out.Chosen = &chosenSummary
	}
	out.Matched = matched
	out.RequestID = uuid.New().String()

	metrics.EvaluationsTotal.WithLabelValues(string(out.Plan.Type), out.GuardrailReason).Inc()
	log.WithComponent("evaluator").Debug().
		Str("service", sig.Service()).
		Str("reason", out.GuardrailReason).
		Str("action", string(out.Plan.Type)).
		Bool("dry_run", out.Plan.DryRun).
		Msg("Evaluated signal")

	e.writeAudit(sig, out)
	return out
}

// applyGuardrails turns the winning policy's action into a plan, enforcing
// the restart cooldown and the replica bounds.
func (e *Evaluator) applyGuardrails(pol policy.Policy, sig types.Signal, target types.Target) Outcome {
	switch pol.Action.Kind {
	case policy.ActionRestart:
		return e.restartPlan(sig, target)
	case policy.ActionScale:
		return e.scalePlan(pol.Action.Replicas, target)
	}
	// Unreachable with a parsed rule set
	return Outcome{
		Plan:            types.ActionPlan{Type: types.ActionRestart, Target: target, DryRun: true, Verify: true, Reason: ReasonNoMatchFallback},
		GuardrailReason: ReasonNoMatchFallback,
	}
}

func (e *Evaluator) restartPlan(sig types.Signal, target types.Target) Outcome {
	service := sig.Service()
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastRestarts[service]; ok && now.Sub(last) < e.cfg.RestartCooldown {
		return Outcome{
			Plan: types.ActionPlan{
				Type:   types.ActionRestart,
				Target: target,
				DryRun: true,
				Verify: true,
				Reason: ReasonRestartBlockedCooldown,
			},
			GuardrailReason: ReasonRestartBlockedCooldown,
		}
	}

	// The allowance itself starts the cooldown window
	e.lastRestarts[service] = now
	return Outcome{
		Plan: types.ActionPlan{
			Type:   types.ActionRestart,
			Target: target,
			DryRun: false,
			Verify: true,
			Reason: ReasonRestartAllowed,
		},
		GuardrailReason: ReasonRestartAllowed,
	}
}

func (e *Evaluator) scalePlan(requested int, target types.Target) Outcome {
	clamped := requested
	if clamped < e.cfg.MinReplicas {
		clamped = e.cfg.MinReplicas
	}
	if clamped > e.cfg.MaxReplicas {
		clamped = e.cfg.MaxReplicas
	}

	if clamped != requested {
		// Out-of-bounds requests run clamped and dry so a bad rule cannot
		// push the fleet outside the window
		return Outcome{
			Plan: types.ActionPlan{
				Type:   types.ActionScale,
				Target: target,
				DryRun: true,
				Verify: true,
				Reason: ReasonScaleClamped,
				Scale:  &types.ScaleSpec{Replicas: clamped},
			},
			GuardrailReason: ReasonScaleClamped,
		}
	}

	return Outcome{
		Plan: types.ActionPlan{
			Type:   types.ActionScale,
			Target: target,
			DryRun: false,
			Verify: true,
			Reason: ReasonScaleWithinLimits,
			Scale:  &types.ScaleSpec{Replicas: clamped},
		},
		GuardrailReason: ReasonScaleWithinLimits,
	}
}

func (e *Evaluator) writeAudit(sig types.Signal, out Outcome) {
	if e.auditLog == nil {
		return
	}

	status := e.store.Status()
	decision := types.Decision{
		Type:   out.Plan.Type,
		DryRun: out.Plan.DryRun,
		Verify: out.Plan.Verify,
	}
	if out.Plan.Scale != nil {
		decision.Replicas = out.Plan.Scale.Replicas
	}
	if out.Chosen != nil && out.Plan.Type == types.ActionScale {
		// Preserve the pre-clamp request for replay
		for _, pol := range e.store.Policies() {
			if pol.Name == out.Chosen.Name {
				decision.RequestedReplicas = pol.Action.Replicas
				break
			}
		}
	}

	ev := types.AuditEvent{
		Timestamp:       e.now().UTC(),
		RequestID:       out.RequestID,
		Source:          "evaluation",
		PolicyPath:      status.SourcePath,
		PolicyCount:     status.PolicyCount,
		Signal:          sig.Summary(),
		MatchedPolicies: out.Matched,
		ChosenPolicy:    out.Chosen,
		Decision:        decision,
		GuardrailReason: out.GuardrailReason,
	}
	if err := e.auditLog.Append(ev); err != nil {
		log.WithComponent("evaluator").Error().Err(err).Msg("Failed to append audit event")
	}
}

// pickWinner selects the highest-priority candidate; ties go to the policy
// with more conditions, then to document order.
func pickWinner(candidates []policy.Policy) policy.Policy {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority > best.Priority {
			best = c
			continue
		}
		if c.Priority == best.Priority && len(c.Conditions) > len(best.Conditions) {
			best = c
		}
	}
	return best
}

// matchesAll reports whether every condition of the policy holds for the
// signal. A field the signal cannot supply makes its condition false.
func matchesAll(pol policy.Policy, sig types.Signal) bool {
	for _, cond := range pol.Conditions {
		if !matches(cond, sig) {
			return false
		}
	}
	return true
}

func matches(cond policy.Condition, sig types.Signal) bool {
	switch cond.Field {
	case policy.FieldAnomalyType:
		if sig.Kind != types.SignalAnomaly || sig.Anomaly == nil {
			return false
		}
		return compareString(string(sig.Anomaly.Type), cond)

	case policy.FieldAnomalyScore:
		if sig.Kind != types.SignalAnomaly || sig.Anomaly == nil {
			return false
		}
		return compareNumber(sig.Anomaly.Score, cond)

	case policy.FieldRcaCause:
		if sig.Kind != types.SignalRCA || sig.RCA == nil || len(sig.RCA.RankedCauses) == 0 {
			return false
		}
		return compareString(sig.RCA.RankedCauses[0].Cause, cond)

	case policy.FieldRcaProbability:
		if sig.Kind != types.SignalRCA || sig.RCA == nil || len(sig.RCA.RankedCauses) == 0 {
			return false
		}
		return compareNumber(sig.RCA.RankedCauses[0].Probability, cond)
	}
	return false
}

func compareString(actual string, cond policy.Condition) bool {
	if cond.Value.Kind != policy.ValueString || cond.Op != policy.OpEq {
		return false
	}
	return actual == cond.Value.Str
}

func compareNumber(actual float64, cond policy.Condition) bool {
	if cond.Value.Kind != policy.ValueNumber {
		return false
	}
	switch cond.Op {
	case policy.OpEq:
		return actual == cond.Value.Num
	case policy.OpGt:
		return actual > cond.Value.Num
	case policy.OpLt:
		return actual < cond.Value.Num
	case policy.OpGe:
		return actual >= cond.Value.Num
	case policy.OpLe:
		return actual <= cond.Value.Num
	}
	return false
}
