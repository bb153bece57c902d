/*
Package config loads Mend controller configuration from a YAML file with
environment-variable overrides.

Resolution order: built-in defaults, then the YAML file (path argument or
MEND_CONFIG), then MEND_* environment variables. Every guardrail knob has a
documented default: restart cooldown 120s, loop cooldown 300s, max retries 2,
hourly action cap 6, absolute replica cap 8, 15-minute net scale-increase
cap 3, replica bounds [1, 10], unbounded queue.

An inverted replica window (max < min) is clamped to max = min rather than
rejected, so a bad environment cannot take the safety layer down.
*/
package config
