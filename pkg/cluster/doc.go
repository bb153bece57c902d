/*
Package cluster provides the workload state client used by the remediation
layers.

Client is the mutation surface (get, list, scale, restart, patch, all with
dry-run support). BoltClient is the BoltDB-backed implementation: each
mutation bumps the workload generation, and observed replica counts converge
on spec after a short settle delay, so rollout verification has real
in-progress and settled states to poll.

Resolver maps bare service names from signals to prefixed workload names.
*/
package cluster
