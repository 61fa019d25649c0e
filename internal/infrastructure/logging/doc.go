// Package logging provides structured logging for Status Core.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, destination) and default service/version
// attributes attached to every record.
//
// # Usage
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("controller started", "outputs", len(rules.Outputs))
//
//	ctrlLog := log.With("component", "controller")
//	ctrlLog.Debug("cycle complete", "queued", queued)
//
// Use logging.Default() only during early startup, before the
// configuration file has been loaded.
package logging
