/*
Package api exposes the controller over HTTP.

Routes:

	POST /v1/policy/evaluate   evaluate one signal, return the plan
	POST /v1/policy/reload     re-read the rule source
	GET  /v1/policy/status     active rule set summary
	POST /v1/policy/validate   parse-only check of rule text
	GET  /v1/policy/audit      recent audit events
	POST /v1/signals/anomaly   ingest an anomaly signal into the loop
	POST /v1/signals/rca       ingest an RCA signal into the loop
	GET  /v1/signals/recent    recently retained signals
	GET  /v1/workloads         observed workload state
	POST /v1/actions/execute   run a plan directly, with verification
	POST /v1/verify/rollout    verify a rollout without acting
	GET  /v1/events/stream     remediation lifecycle events over SSE
	GET  /healthz, /readyz, /metrics

Signal ingestion returns immediately with an acceptance receipt; remediation
happens asynchronously in the closed loop. A full queue answers 429.
*/
package api
