// Package logging provides structured logging with per-module log levels.
//
// Loggers are plain *slog.Logger values carrying a "module" attribute:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"isp": "debug",
//			"vpp": "warn",
//		},
//	})
//
//	logger := logging.GetLogger("isp")
//	logger.Info("Mode configured", "mode", mode)
//
// Records are fanned out to stdout (when connected), the systemd journal
// (when journald is reachable, see [github.com/coreos/go-systemd/v22/journal.Enabled])
// and an in-memory ring buffer served by the HTTP API.
//
// Journal records are tagged with SYSLOG_IDENTIFIER=ispnode, and slog
// attributes become upper-cased journal fields:
//
//	journalctl -t ispnode MODULE=isp
//	journalctl -t ispnode -p err
//
// Module levels can be changed at runtime with SetModuleLevel; loggers
// obtained before Initialize observe the change through their LevelVar.
package logging
