// Package logging provides per-module structured loggers for displaynode.
//
// Every subsystem asks for its own logger once and keeps it:
//
//	logger := logging.GetLogger("pipeline")
//	logger.Info("Power transition", "pipe", 0, "target", "on")
//
// Records are routed to stdout (text or json), to the systemd journal when
// journald is reachable, and to an in-memory history that backs the
// /api/logs/stream endpoint. Levels are held in a slog.LevelVar per module, so a
// logger obtained before Initialize picks up the configured level later
// without being recreated.
//
// Example configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	pipeline = "debug"
//	hotplug = "warn"
//
// Journal fields are upper-cased attribute keys, so records can be filtered
// with journalctl -t displaynode MODULE=hotplug PIPE=1.
package logging
