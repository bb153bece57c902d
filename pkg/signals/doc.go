/*
Package signals retains recent anomaly and RCA signals for inspection.

The store is a pair of bounded rings (200 entries each by default); ingest
never blocks on it and old entries fall off silently. It backs the signal
listing endpoints only and plays no part in remediation decisions.
*/
package signals
