// Package log captures a machine-readable protocol trace of a camera session.
//
// It is separate from operational logging (slog). Every register access,
// call attempt, pushed property and session transition can be recorded as
// an Event and written to a CBOR file for later inspection with lumix-log.
//
//	fl, _ := log.NewFileLogger("session.llog")
//	cfg.ProtocolLogger = log.NewMultiLogger(fl, log.NewSlogAdapter(slog.Default()))
//
// Components hold a *Scope, which stamps the connection id (a UUID per
// connect cycle), transport and device id onto each event.
package log
