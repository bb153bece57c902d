/*
Package audit persists the remediation audit trail as append-only NDJSON.

Every evaluation and every closed-loop terminal outcome produces exactly one
line. Events are never rewritten; reads tolerate corrupt lines by skipping
them so a torn write cannot hide the rest of the history.
*/
package audit
