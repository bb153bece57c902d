/*
Package runner executes action plans against the cluster.

A plan passes through three gates: a replica-bounds check that refuses
out-of-window scales before any cluster call, a dry-run short circuit that
validates without mutating, and a retry loop with exponential backoff and
jitter for transient failures. Guardrail refusals never retry. The runner
always returns a structured result and converts panics into failed results.
*/
package runner
