/*
Package types defines the shared data model for Mend's remediation pipeline.

Signals flow in from external detectors as either anomaly events or
root-cause-analysis events, modeled as a tagged union (Signal) so downstream
code switches exhaustively on Kind instead of inspecting runtime types. The
evaluator turns signals into ActionPlans; the closed-loop worker, action
runner, and verification service consume them and record AuditEvents.

	Signal ──▶ ActionPlan ──▶ RunnerResult ──▶ VerificationResult
	   │                                             │
	   └────────────── AuditEvent ◀──────────────────┘

All types here are plain values with JSON tags matching the external
contracts; none carry behavior beyond small accessors.
*/
package types
