/*
Package log provides structured logging for Mend built on zerolog.

A single global logger is initialized once at startup (console or JSON
output) and components derive child loggers carrying stable fields:

	logger := log.WithComponent("closed-loop")
	logger.Info().Str("window_id", id).Msg("signal accepted")

Field helpers (WithComponent, WithTarget, WithWindowID, WithPolicy) keep
field names consistent across the remediation pipeline so audit queries and
dashboards can rely on them.
*/
package log
