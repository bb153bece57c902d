/*
Package evaluator matches signals against the active policy set and produces
one guardrail-adjusted action plan per evaluation.

Selection is deterministic. All matching policies are collected; the highest
priority wins, ties break toward the policy with more conditions, then
document order. No match degrades to a dry-run restart rather than an error.

Two guardrails apply before a plan leaves the evaluator. A restart inside the
per-service cooldown window is forced dry-run; an allowed restart starts the
next window. A scale request outside the configured replica bounds is clamped
to the nearest bound and forced dry-run. Every evaluation appends exactly one
audit event.
*/
package evaluator
