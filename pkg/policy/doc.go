/*
Package policy implements the remediation rule language: the data model, a
recursive-descent parser, and a hot-reloadable store for the active rule set.

Rule form:

	POLICY "scale-on-cpu":
	  WHEN anomaly.type == "resource" AND anomaly.score >= 0.8
	  THEN scale(service, 4)
	  PRIORITY 10

Conditions reference anomaly.type, anomaly.score, rca.cause or
rca.probability. Strings compare with == only; numbers support the full
ordering operators. PRIORITY is optional and defaults to 0.

The Store swaps the whole rule set atomically: a document that fails to parse
leaves the previously active rules in place. Watch adds fsnotify-driven
reloads when the source file changes on disk.
*/
package policy
