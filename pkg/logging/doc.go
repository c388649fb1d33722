// Package logging provides the subsystem-tagged logger used across the
// robottelo harness.
//
// It is a thin layer over log/slog. Every entry carries a "subsystem"
// attribute (Settings, Fixture, Selection, Runner, ...) so that setup and
// teardown traces of concurrent workers can be filtered after the fact.
//
// # Initialization
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.InitForCLIWithFormat(logging.LevelDebug, logging.FormatJSON, os.Stderr)
//
// Before initialization only warnings and errors are written, directly to
// stderr, which keeps library users quiet by default.
//
// # Logging
//
//	logging.Info("Fixture", "setup %s (%s)", name, scope)
//	logging.Error("Fixture", err, "teardown of %s failed", name)
package logging
