/*
Package verify confirms that an executed action actually converged.

A verification reads the target's generation, then polls with a jittered
interval until the observed generation catches up and updated, ready and
available replicas all reach the desired count. Failure to read the workload
at the start is FAILED; running out the deadline is TIMED_OUT. Results always
carry the last observed replica counts so callers can see how far the rollout
got.
*/
package verify
