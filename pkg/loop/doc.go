/*
Package loop implements the closed-loop remediation controller.

Signals enter through Enqueue and a single worker drains the queue, which
keeps guardrail bookkeeping free of locks. Each item runs the same pipeline:

	map signal -> cooldown check -> fleet guardrails -> execute -> verify

Resource anomalies and cpu/saturation root causes scale the workload up by
one replica; other actionable signals restart it. A target stays in cooldown
for five minutes after a successful action of the same type, and such skips
are silent.

Fleet guardrails cap the hourly action count, the absolute replica count and
the net replica increase over fifteen minutes. A blocked action is a
terminal outcome, never retried. Execution failures and verification
timeouts retry with exponential backoff, preserving the original enqueue
time; a failed verification is deterministic and ends the loop. Terminal
outcomes are written to the audit log and published on the event broker.
*/
package loop
